package bd

import (
	"net"
	"sync"
	"sync/atomic"
)

// TableSize 仅为默认值，在此值内可取得最效能，超出后仍然可以使用，但是效能会下降。
var TableSize = 4096

type fdbTable map[uint64]int

// FDB 记录每个MAC地址是从哪个端口学习到的。
// 读取无锁，可以在收发热路径上调用；更新由后台goroutine合并后整体替换（RCU）。
type FDB struct {
	instance   atomic.Value
	updateChan chan rcuFDBRequest
	closeChan  chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
}

type rcuFDBRequest struct {
	op   int
	key  uint64
	port int
}

const (
	opOverride = iota
	opDelete
)

// NewFDB 会开启一个新的FDB
func NewFDB() *FDB {
	r := &FDB{
		updateChan: make(chan rcuFDBRequest, TableSize),
		closeChan:  make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.instance.Store(make(fdbTable, TableSize))

	go r.updateLoop()

	return r
}

// Lookup 返回addr所在的端口
func (r *FDB) Lookup(addr net.HardwareAddr) (int, bool) {
	key := convertMacToU64(addr)
	if key == 0 {
		return 0, false
	}
	port, ok := r.load()[key]
	return port, ok
}

// Learn 记录addr位于port。已有相同记录时什么都不做；
// 更新队列已满时放弃本次学习并返回false，调用者永远不会被阻塞。
func (r *FDB) Learn(addr net.HardwareAddr, port int) bool {
	key := convertMacToU64(addr)
	if key == 0 {
		return false
	}
	if old, ok := r.load()[key]; ok && old == port {
		return true
	}

	select {
	case r.updateChan <- rcuFDBRequest{op: opOverride, key: key, port: port}:
		return true
	default:
		return false
	}
}

// Delete 在FDB关闭后直接返回
func (r *FDB) Delete(addr net.HardwareAddr) {
	key := convertMacToU64(addr)
	if key == 0 {
		return
	}
	select {
	case r.updateChan <- rcuFDBRequest{op: opDelete, key: key}:
	case <-r.closeChan:
	}
}

// Len 当前已生效的表项数量
func (r *FDB) Len() int {
	return len(r.load())
}

func (r *FDB) Close() {
	r.closeOnce.Do(func() {
		close(r.closeChan)
		<-r.done
	})
}

func (r *FDB) load() fdbTable {
	return r.instance.Load().(fdbTable)
}

func (r *FDB) updateLoop() {
	defer close(r.done)
	changed := make([]rcuFDBRequest, 0, TableSize)

	for {
		// 不浪费内存，相当于复用一片内存区域
		changed = changed[:0]
		select {
		case <-r.closeChan:
			return
		case req := <-r.updateChan:
			changed = append(changed, req)
		}
		l := len(r.updateChan)
		for i := 0; i < l; i++ {
			changed = append(changed, <-r.updateChan)
		}

		// 旧表仍被读者引用时不会被回收，直接替换即可
		cloned := cloneFDB(r.load())
		patchFDB(changed, cloned)
		r.instance.Store(cloned)
	}
}

// patchFDB 会合并已有的RCU更改到传入的fdb中。
func patchFDB(reqs []rcuFDBRequest, fdb fdbTable) {
	for _, p := range reqs {
		switch p.op {
		case opOverride:
			fdb[p.key] = p.port
		case opDelete:
			delete(fdb, p.key)
		}
	}
}

func cloneFDB(ori fdbTable) fdbTable {
	res := make(fdbTable, len(ori)+TableSize)
	for k, v := range ori {
		res[k] = v
	}
	return res
}

// convertMacToU64 非法地址返回0
func convertMacToU64(addr net.HardwareAddr) uint64 {
	if len(addr) < 6 {
		return 0
	}
	return uint64(addr[0])<<40 | uint64(addr[1])<<32 | uint64(addr[2])<<24 |
		uint64(addr[3])<<16 | uint64(addr[4])<<8 | uint64(addr[5])
}
