package ixgbe

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"starNIC/utils/binary"
)

// PacketHandler 处理一个收到的包。packet 的容量为整个缓冲区，可以原地修改。
// 将需要发送的输出在outputs中置为true，返回要发送的长度。
type PacketHandler func(packet []byte, outputs []bool) uint16

// 表示自上次空轮询以来还没有写过tail
const noFlush = math.MaxUint64

// Agent 一个输入、至多 OutputsMax 个输出的收发引擎。
//
// 0号环同时是输入队列的接收环和0号输出的发送环：收到的包在原地被改写为发送描述符，
// 同一个缓冲区在所有输出间共享，因此转发不需要拷贝。
// Agent 不是并发安全的，同一时刻只能有一个goroutine调用 Receive / Transmit / Process。
type Agent struct {
	mem  Allocator
	opts AgentOptions
	log  *logrus.Entry

	headsMem []byte
	buffer   []byte
	ringsMem [OutputsMax][]byte

	// heads[n*TransmitHeadMultiplier] 为n号输出的head write-back
	heads []uint32
	// 每个描述符两个uint64：缓冲区物理地址与元数据
	rings [OutputsMax][]uint64

	ringMask           uint64
	bufferSize         uint64
	transmitPeriodMask uint64
	processPeriod      uint64

	processed uint64
	flushed   uint64

	hasInput      bool
	receiveTail   register
	outputCount   int
	transmitTails [OutputsMax]register

	selection [OutputsMax]bool
}

// NewAgent 分配描述符环、包缓冲区和 transmit head 数组。
// 任一分配失败都会按相反顺序释放已分配的内存。
func NewAgent(mem Allocator, options *AgentOptions) (*Agent, error) {
	if options == nil {
		options = &DefaultAgentOptions
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		mem:                mem,
		opts:               *options,
		log:                logrus.WithField("module", "ixgbe"),
		ringMask:           uint64(options.RingSize - 1),
		bufferSize:         uint64(options.PacketBufferSize),
		transmitPeriodMask: uint64(options.TransmitPeriod - 1),
		processPeriod:      uint64(options.ProcessPeriod),
		flushed:            noFlush,
	}

	var err error
	headsSize := uint64(OutputsMax * TransmitHeadMultiplier * 4)
	a.headsMem, err = a.allocate("transmit heads", headsSize, 4)
	if err != nil {
		return nil, err
	}
	a.heads = unsafe.Slice((*uint32)(unsafe.Pointer(&a.headsMem[0])), OutputsMax*TransmitHeadMultiplier)

	bufferSize := uint64(options.RingSize) * a.bufferSize
	a.buffer, err = a.allocate("packet buffer", bufferSize, 1024)
	if err != nil {
		a.release()
		return nil, err
	}

	ringSize := uint64(options.RingSize) * DescriptorSize
	for n := 0; n < OutputsMax; n++ {
		// 7.1.9 / 7.2.3.4: 描述符环需要128字节对齐
		a.ringsMem[n], err = a.allocate("ring", ringSize, 128)
		if err != nil {
			a.release()
			return nil, err
		}
		a.rings[n] = unsafe.Slice((*uint64)(unsafe.Pointer(&a.ringsMem[n][0])), options.RingSize*2)
	}

	a.log.Infof("agent allocated: %d-entry rings, %s packet buffer",
		options.RingSize, humanize.IBytes(bufferSize))
	return a, nil
}

func (a *Agent) allocate(what string, size uint64, align uintptr) ([]byte, error) {
	mem, err := a.mem.Allocate(size)
	if err != nil {
		a.log.Debugf("cannot allocate %s (%s): %v", what, humanize.IBytes(size), err)
		return nil, errors.Wrapf(ErrAllocation, "allocate %s: %v", what, err)
	}
	if uint64(len(mem)) < size || uintptr(unsafe.Pointer(&mem[0]))%align != 0 {
		_ = a.mem.Free(mem)
		return nil, errors.Wrapf(ErrAllocation, "allocate %s: bad size or alignment", what)
	}
	return mem, nil
}

// release 按分配的相反顺序释放内存
func (a *Agent) release() error {
	var first error
	free := func(mem []byte) {
		if mem == nil {
			return
		}
		if err := a.mem.Free(mem); err != nil && first == nil {
			first = errors.Wrap(err, "free agent memory failed")
		}
	}

	for n := OutputsMax - 1; n >= 0; n-- {
		free(a.ringsMem[n])
		a.ringsMem[n] = nil
		a.rings[n] = nil
	}
	free(a.buffer)
	a.buffer = nil
	free(a.headsMem)
	a.headsMem = nil
	a.heads = nil

	return first
}

// Close 释放所有内存。调用前必须确保绑定的设备已停止DMA。
func (a *Agent) Close() error {
	return a.release()
}

// BindInput 将设备的0号接收队列设为本引擎的输入，按 4.6.7 节初始化接收队列
func (a *Agent) BindInput(dev *Device) error {
	log := a.log.WithField("pci", dev.pci.String())
	if a.hasInput {
		log.Debug("agent already has an input")
		return errors.Wrap(ErrValidation, "agent already has an input")
	}
	if err := a.checkDevice(dev); err != nil {
		return err
	}
	if !dev.IsFieldCleared(RXDCTL, 0, RXDCTLEnable) {
		log.Debug("receive queue 0 is already in use")
		return errors.Wrap(ErrValidation, "receive queue 0 is already in use")
	}

	if err := a.fillRing(0); err != nil {
		return err
	}
	ringPhys, err := a.physOf(a.ringsMem[0])
	if err != nil {
		return err
	}
	dev.Write(RDBAH, 0, uint32(ringPhys>>32))
	dev.Write(RDBAL, 0, uint32(ringPhys))
	dev.Write(RDLEN, 0, uint32(a.opts.RingSize*DescriptorSize))

	// 缓冲区大小以1KB为单位；描述符用尽时丢包，而不是阻塞其他队列
	dev.WriteField(SRRCTL, 0, SRRCTLBSizePacket, uint32(a.opts.PacketBufferSize/1024))
	dev.SetField(SRRCTL, 0, SRRCTLDropEn)

	dev.SetField(RXDCTL, 0, RXDCTLEnable)
	if err = dev.poll("RXDCTL.ENABLE set", func() bool { return !dev.IsFieldCleared(RXDCTL, 0, RXDCTLEnable) }); err != nil {
		return err
	}

	// 所有描述符都交给硬件
	dev.Write(RDT, 0, uint32(a.opts.RingSize-1))

	// 4.6.7.1: 开启接收前需要暂停安全接收通路
	dev.SetField(SECRXCTRL, 0, SECRXCTRLRxDis)
	if err = dev.poll("SECRXSTAT.SECRX_RDY set", func() bool { return !dev.IsFieldCleared(SECRXSTAT, 0, SECRXSTATSecRxRdy) }); err != nil {
		return err
	}
	dev.SetField(RXCTRL, 0, RXCTRLRxEn)
	dev.ClearField(SECRXCTRL, 0, SECRXCTRLRxDis)

	// 关闭 no snoop；DCARXCTRL 的第12位保留但必须清零
	dev.SetField(CTRLEXT, 0, CTRLEXTNSDis)
	dev.ClearField(DCARXCTRL, 0, DCARXCTRLUnknown)

	a.receiveTail = register{regs: dev.regs, off: RDT.Offset(0)}
	a.hasInput = true
	log.Info("input bound")
	return nil
}

// BindOutput 将设备的发送队列queue设为本引擎的下一个输出，按 4.6.8 节初始化发送队列。
// 队列开启后为空，直到第一次 Transmit 才会写 tail。
func (a *Agent) BindOutput(dev *Device, queue int) error {
	log := a.log.WithField("pci", dev.pci.String()).WithField("queue", queue)
	if a.outputCount >= OutputsMax {
		log.Debug("too many outputs")
		return errors.Wrapf(ErrValidation, "agent already has %d outputs", OutputsMax)
	}
	if queue < 0 || queue >= TransmitQueuesCount {
		log.Debug("transmit queue index out of range")
		return errors.Wrapf(ErrValidation, "transmit queue %d out of range", queue)
	}
	if err := a.checkDevice(dev); err != nil {
		return err
	}
	if !dev.IsFieldCleared(TXDCTL, queue, TXDCTLEnable) {
		log.Debug("transmit queue is already in use")
		return errors.Wrapf(ErrValidation, "transmit queue %d is already in use", queue)
	}

	n := a.outputCount
	if err := a.fillRing(n); err != nil {
		return err
	}
	ringPhys, err := a.physOf(a.ringsMem[n])
	if err != nil {
		return err
	}
	dev.Write(TDBAH, queue, uint32(ringPhys>>32))
	dev.Write(TDBAL, queue, uint32(ringPhys))
	dev.Write(TDLEN, queue, uint32(a.opts.RingSize*DescriptorSize))

	// 7.2.3.4.1: 推荐的预取与回写阈值
	dev.WriteField(TXDCTL, queue, TXDCTLPThresh, txPrefetchThreshold)
	dev.WriteField(TXDCTL, queue, TXDCTLHThresh, txHostThreshold)

	// 7.2.3.5.2: head write-back 地址的低4位用作标志，必须16字节对齐
	headPhys, err := a.mem.VirtToPhys(uintptr(unsafe.Pointer(&a.heads[n*TransmitHeadMultiplier])))
	if err != nil {
		log.Debugf("cannot get the transmit head's physical address: %v", err)
		return errors.Wrapf(ErrAllocation, "translate transmit head address: %v", err)
	}
	if headPhys%16 != 0 {
		log.Debugf("transmit head's physical address 0x%x is not aligned properly", headPhys)
		return errors.Wrapf(ErrValidation, "transmit head address 0x%x is not 16-byte aligned", headPhys)
	}
	dev.Write(TDWBAH, queue, uint32(headPhys>>32))
	dev.Write(TDWBAL, queue, uint32(headPhys)|tdwbalHeadWbEnable)
	// head write-back 不允许乱序
	dev.ClearField(DCATXCTRL, queue, DCATXCTRLTxDescWbRoEn)

	dev.SetField(DMATXCTL, 0, DMATXCTLTE)
	dev.SetField(TXDCTL, queue, TXDCTLEnable)
	if err = dev.poll("TXDCTL.ENABLE set", func() bool { return !dev.IsFieldCleared(TXDCTL, queue, TXDCTLEnable) }); err != nil {
		return err
	}

	a.transmitTails[n] = register{regs: dev.regs, off: TDT.Offset(queue)}
	a.outputCount++
	log.Infof("output %d bound", n)
	return nil
}

func (a *Agent) checkDevice(dev *Device) error {
	if dev.regs == nil {
		return errors.Wrap(ErrValidation, "device is closed")
	}
	if dev.opts.PacketBufferSize != a.opts.PacketBufferSize {
		return errors.Wrapf(ErrValidation, "device packet buffer size %d differs from agent's %d",
			dev.opts.PacketBufferSize, a.opts.PacketBufferSize)
	}
	return nil
}

// fillRing 把每个缓冲区的物理地址写入n号环对应描述符的地址字段
func (a *Agent) fillRing(n int) error {
	ring := a.rings[n]
	for slot := uint64(0); slot < uint64(a.opts.RingSize); slot++ {
		off := slot * a.bufferSize
		// 访问一次，确保页面已驻留后再查询物理地址
		_ = atomic.LoadUint32((*uint32)(unsafe.Pointer(&a.buffer[off])))
		phys, err := a.mem.VirtToPhys(uintptr(unsafe.Pointer(&a.buffer[off])))
		if err != nil {
			a.log.Debugf("cannot get the physical address of buffer %d: %v", slot, err)
			return errors.Wrapf(ErrAllocation, "translate buffer %d address: %v", slot, err)
		}
		atomic.StoreUint64(&ring[2*slot], binary.LittleEndian64(phys))
	}
	return nil
}

func (a *Agent) physOf(mem []byte) (uint64, error) {
	phys, err := a.mem.VirtToPhys(uintptr(unsafe.Pointer(&mem[0])))
	if err != nil {
		a.log.Debugf("cannot get the ring's physical address: %v", err)
		return 0, errors.Wrapf(ErrAllocation, "translate ring address: %v", err)
	}
	return phys, nil
}

// Receive 检查当前描述符是否已被硬件写回。
// 有包时返回其长度和整个缓冲区，不移动处理位置，重复调用结果相同。
func (a *Agent) Receive() (bool, uint16, []byte) {
	// DD 位由硬件异步置位，必须原子读取
	meta := binary.LittleEndian64(atomic.LoadUint64(&a.rings[0][2*a.processed+1]))
	if meta&rxStatusDD == 0 {
		// 没有新包时把尚未写出的 tail 补写出去，避免包滞留在环中
		if a.flushed != noFlush && a.flushed != a.processed {
			a.flushTransmitTails()
		}
		a.flushed = noFlush
		return false, 0, nil
	}

	off := a.processed * a.bufferSize
	return true, uint16(meta & rxLengthMask), a.buffer[off : off+a.bufferSize : off+a.bufferSize]
}

// Transmit 将当前描述符改写为发送描述符并推进处理位置。
// outputs[n] 为true时n号输出发送length字节，否则该输出对应描述符长度为0。
// 改写同时清除了0号环上的DD位，该描述符可以在下一轮被硬件重新用于接收。
func (a *Agent) Transmit(length uint16, outputs []bool) {
	var rs uint64
	if a.processed&a.transmitPeriodMask == a.transmitPeriodMask {
		rs = txCommandRS
	}
	// 7.2.3.2.2: 短包填充依赖 IFCS
	command := txCommandEOP | txCommandIFCS | rs

	slot := 2*a.processed + 1
	rings := a.outputCount
	if rings == 0 {
		rings = 1
	}
	for n := 0; n < rings; n++ {
		meta := command
		if n < a.outputCount && n < len(outputs) && outputs[n] {
			meta |= uint64(length)
		}
		atomic.StoreUint64(&a.rings[n][slot], binary.LittleEndian64(meta))
	}

	a.processed = (a.processed + 1) & a.ringMask

	if a.flushed == noFlush || a.processed == (a.flushed+a.processPeriod)&a.ringMask {
		a.flushTransmitTails()
		a.flushed = a.processed
	}

	if rs != 0 {
		a.recycle()
	}
}

// recycle 根据各输出的 head write-back 找出最落后的输出，
// 把它已发送完的描述符交还给接收队列。
// 与硬件的竞争只会让估计值偏小，不会把未发送的缓冲区交出去。
func (a *Agent) recycle() {
	earliest := a.processed
	minDiff := uint64(math.MaxUint64)
	for n := 0; n < a.outputCount; n++ {
		head := uint64(binary.LittleEndian32(atomic.LoadUint32(&a.heads[n*TransmitHeadMultiplier])))
		diff := head - a.processed
		if diff <= minDiff {
			earliest = head
			minDiff = diff
		}
	}
	if a.hasInput {
		a.receiveTail.write(uint32((earliest - 1) & a.ringMask))
	}
}

func (a *Agent) flushTransmitTails() {
	v := uint32(a.processed)
	for n := 0; n < a.outputCount; n++ {
		a.transmitTails[n].write(v)
	}
}

// Process 收一个包，交给handler决定去向，再发送出去。没有包时立即返回。
func (a *Agent) Process(handler PacketHandler) {
	ok, length, buffer := a.Receive()
	if !ok {
		return
	}

	for n := range a.selection {
		a.selection[n] = false
	}
	length = handler(buffer[:length], a.selection[:])
	a.Transmit(length, a.selection[:])
}

// Processed 返回当前处理位置
func (a *Agent) Processed() uint64 {
	return a.processed
}

// Outputs 返回已绑定的输出数量
func (a *Agent) Outputs() int {
	return a.outputCount
}
