package numa

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// get_mempolicy(2) flags
const (
	mpolFNode = 1 << 0
	mpolFAddr = 1 << 1
)

// CurrentNode 返回当前线程所在CPU的NUMA节点。
// 调用者需要先 runtime.LockOSThread，否则返回值随时可能失效。
func CurrentNode() (int, error) {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1, errors.Wrap(errno, "getcpu failed")
	}
	return int(node), nil
}

// AddressNode 返回addr所在页面实际分配到的NUMA节点，页面必须已经驻留
func AddressNode(addr uintptr) (int, error) {
	var node int32
	_, _, errno := unix.Syscall6(unix.SYS_GET_MEMPOLICY,
		uintptr(unsafe.Pointer(&node)), 0, 0, addr, mpolFNode|mpolFAddr, 0)
	if errno != 0 {
		return -1, errors.Wrap(errno, "get_mempolicy failed")
	}
	return int(node), nil
}

// IsLocal 判断addr是否位于调用线程所在的NUMA节点
func IsLocal(addr uintptr) (bool, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	current, err := CurrentNode()
	if err != nil {
		return false, err
	}
	node, err := AddressNode(addr)
	if err != nil {
		return false, err
	}
	return node == current, nil
}
