package ixgbe

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"starNIC/utils/binary"
)

const (
	testPollTimeout = 20 * time.Millisecond
	testBar0Phys    = 0x1_F000_0000
)

var errFakeAllocation = errors.New("fake allocation failure")

// fakeAllocator 用普通堆内存模拟大页，物理地址即虚拟地址加上skew
type fakeAllocator struct {
	skew      uint64
	failAt    int
	allocated int
	live      map[uintptr][]byte
	windows   map[uint64][]byte
	mapped    int
	unmapped  int
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{
		failAt:  -1,
		live:    make(map[uintptr][]byte),
		windows: make(map[uint64][]byte),
	}
}

func (f *fakeAllocator) Allocate(size uint64) ([]byte, error) {
	if f.failAt >= 0 && f.allocated >= f.failAt {
		return nil, errFakeAllocation
	}
	f.allocated++

	raw := make([]byte, size+4096)
	off := 4096 - int(uintptr(unsafe.Pointer(&raw[0]))%4096)
	mem := raw[off : off+int(size) : off+int(size)]
	f.live[uintptr(unsafe.Pointer(&mem[0]))] = raw
	return mem, nil
}

func (f *fakeAllocator) Free(mem []byte) error {
	addr := uintptr(unsafe.Pointer(&mem[0]))
	if _, ok := f.live[addr]; !ok {
		return fmt.Errorf("free of unknown address 0x%x", addr)
	}
	delete(f.live, addr)
	return nil
}

func (f *fakeAllocator) VirtToPhys(addr uintptr) (uint64, error) {
	return uint64(addr) + f.skew, nil
}

func (f *fakeAllocator) PhysToVirt(phys uint64, size uint64) ([]byte, error) {
	w, ok := f.windows[phys]
	if !ok || uint64(len(w)) < size {
		return nil, fmt.Errorf("no window at 0x%x", phys)
	}
	f.mapped++
	return w[:size], nil
}

func (f *fakeAllocator) Unmap(mem []byte) error {
	f.unmapped++
	return nil
}

// fakePci 256字节的配置空间
type fakePci struct {
	cfg [256]byte
}

func newFakePci() *fakePci {
	p := &fakePci{}
	p.WriteConfig(PciID.Offset(), PciID82599)
	p.WriteConfig(PciBar0Low.Offset(), uint32(testBar0Phys&0xFFFFFFFF)|PciBar0Type64)
	p.WriteConfig(PciBar0High.Offset(), uint32(testBar0Phys>>32))
	return p
}

func (p *fakePci) ReadConfig(offset uint16) uint32 {
	b := p.cfg[offset : offset+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (p *fakePci) WriteConfig(offset uint16, value uint32) {
	for i := 0; i < 4; i++ {
		p.cfg[int(offset)+i] = byte(value >> (8 * i))
	}
}

func (p *fakePci) String() string {
	return "0000:01:00.0"
}

// simWindow 模拟寄存器窗口：记录每个偏移的写次数，sticky中的位在读取时始终为1，
// 用来模拟硬件不响应的情况
type simWindow struct {
	mem    [RegisterWindowSize / 4]uint32
	writes map[uint32]int
	sticky map[uint32]uint32
}

func newSimWindow() *simWindow {
	return &simWindow{
		writes: make(map[uint32]int),
		sticky: make(map[uint32]uint32),
	}
}

func (w *simWindow) load32(off uint32) uint32 {
	return atomic.LoadUint32(&w.mem[off/4]) | w.sticky[off]
}

func (w *simWindow) store32(off uint32, v uint32) {
	atomic.StoreUint32(&w.mem[off/4], v)
	w.writes[off]++
}

func (w *simWindow) set(reg Reg, idx int, mask uint32) {
	off := reg.Offset(idx)
	w.mem[off/4] |= mask
}

func (w *simWindow) get(reg Reg, idx int) uint32 {
	return w.load32(reg.Offset(idx))
}

func (w *simWindow) field(reg Reg, idx int, f Field) uint32 {
	return (w.get(reg, idx) & f.Mask()) >> f.shift()
}

func (w *simWindow) writesTo(reg Reg, idx int) int {
	return w.writes[reg.Offset(idx)]
}

// newSimDevice 返回一个使用模拟寄存器的设备，跳过PCI与映射阶段。
// 安全接收通路默认就绪。
func newSimDevice(mem Allocator) (*Device, *simWindow) {
	w := newSimWindow()
	w.set(SECRXSTAT, 0, SECRXSTATSecRxRdy.Mask())

	opts := DefaultDeviceOptions
	opts.PollTimeout = testPollTimeout
	d := &Device{
		regs: w,
		pci:  newFakePci(),
		mem:  mem,
		opts: opts,
		log:  logrus.WithField("module", "ixgbe").WithField("pci", "sim"),
	}
	return d, w
}

// newHardwareWindow 返回一段能通过初始化的BAR0内存：EEPROM已读完，DMA初始化已完成
func newHardwareWindow() []byte {
	mem := make([]byte, RegisterWindowSize)
	w := mmioWindow(mem)
	w.store32(EEC.Offset(0), EECAutoRd.Mask()|EECEEPres.Mask())
	w.store32(RDRXCTL.Offset(0), RDRXCTLDMAIDone.Mask())
	return mem
}

func testAgentOptions(ringSize int) *AgentOptions {
	opts := DefaultAgentOptions
	opts.RingSize = ringSize
	return &opts
}

func newTestAgent(t *testing.T, mem Allocator, ringSize int) *Agent {
	a, err := NewAgent(mem, testAgentOptions(ringSize))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// injectPacket 模拟硬件把一个长度为length的包写入slot并置DD
func injectPacket(a *Agent, slot uint64, length uint16) {
	meta := rxStatusDD | uint64(length)
	atomic.StoreUint64(&a.rings[0][2*slot+1], binary.LittleEndian64(meta))
}

func descriptorMeta(a *Agent, ring int, slot uint64) uint64 {
	return binary.LittleEndian64(atomic.LoadUint64(&a.rings[ring][2*slot+1]))
}

func descriptorAddr(a *Agent, ring int, slot uint64) uint64 {
	return binary.LittleEndian64(atomic.LoadUint64(&a.rings[ring][2*slot]))
}

// writeBackHead 模拟硬件写回n号输出的 transmit head
func writeBackHead(a *Agent, n int, head uint32) {
	atomic.StoreUint32(&a.heads[n*TransmitHeadMultiplier], binary.LittleEndian32(head))
}

func addrOf(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}
