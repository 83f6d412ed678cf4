package timer

import (
	"runtime"
	"time"
)

// Spin 忙等待d，不让出线程。
// 轮询模式的驱动需要微秒级延时，time.Sleep 在这个精度下不可靠。
func Spin(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// Poll 反复调用cond直到其返回true或超时，超时返回false。
// cond 至少会被调用一次，超时后还会再检查一次，以免在最后一刻成立的条件被误判。
func Poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return cond()
		}
		// 单核环境下让出调度，以便模拟硬件的goroutine运行
		runtime.Gosched()
	}
}
