package ixgbe

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"starNIC/pkg/timer"
)

// Allocator 提供NUMA本地的、物理地址连续的内存以及地址转换。
// 分配与转换失败都通过error返回。
type Allocator interface {
	Allocate(size uint64) ([]byte, error)
	Free(mem []byte) error
	VirtToPhys(addr uintptr) (uint64, error)
	PhysToVirt(phys uint64, size uint64) ([]byte, error)
	// Unmap 释放 PhysToVirt 得到的映射
	Unmap(mem []byte) error
}

// PciConfig PCI配置空间访问。读失败时返回 0xFFFFFFFF，与读取不存在的寄存器一致。
type PciConfig interface {
	ReadConfig(offset uint16) uint32
	WriteConfig(offset uint16, value uint32)
	String() string
}

// DeviceOptions 设备初始化参数
type DeviceOptions struct {
	// PollTimeout 每次等待硬件状态的上限，数据手册没有给出时统一使用1秒
	PollTimeout time.Duration
	// PacketBufferSize 必须与绑定到该设备的 Agent 一致
	PacketBufferSize int
	// FlushClearsBits 决定复位时内部缓冲区冲刷结束后对 HLREG0.LPBK 和
	// GCREXT.BUFFERS_CLEAR_FUNC 的处理：false 时再次置位，true 时按数据手册字面意思清零
	FlushClearsBits bool
}

var DefaultDeviceOptions = DeviceOptions{
	PollTimeout:      DefaultPollTimeout,
	PacketBufferSize: DefaultPacketBufferSize,
	FlushClearsBits:  false,
}

func (o *DeviceOptions) Validate() error {
	if o.PollTimeout <= 0 {
		return errors.Wrapf(ErrValidation, "poll timeout %v must be positive", o.PollTimeout)
	}
	return validatePacketBufferSize(o.PacketBufferSize)
}

// Device 一个已映射、已复位并完成基础初始化的82599网卡
type Device struct {
	regs window
	pci  PciConfig
	mem  Allocator
	// 映射得到的BAR0，Close 时归还
	mapped []byte
	opts   DeviceOptions
	log    *logrus.Entry

	statsMu sync.Mutex
	stats   Stats
}

// NewDevice 校验PCI设备、映射BAR0、复位并初始化网卡。
// 任何一步失败都会撤销已建立的映射。
func NewDevice(mem Allocator, pci PciConfig, options *DeviceOptions) (*Device, error) {
	if options == nil {
		options = &DefaultDeviceOptions
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	log := logrus.WithField("module", "ixgbe").WithField("pci", pci.String())
	d := &Device{pci: pci, mem: mem, opts: *options, log: log}

	// 0x10FB 为 82599 SFP+
	if id := d.readPci(PciID); id != PciID82599 {
		log.Debugf("PCI device is not what was expected: 0x%08x", id)
		return nil, errors.Wrapf(ErrValidation, "unexpected PCI ID 0x%08x", id)
	}

	// 从D3切回D0会触发内部复位，使之前的BAR映射失效，因此只接受已在D0的设备
	if !d.isPciCleared(PciPMCSR, PciPMCSRPowerState) {
		log.Debug("PCI device not in D0")
		return nil, errors.Wrap(ErrValidation, "device is not in power state D0")
	}

	d.setPci(PciCommand, PciCommandBusMasterEnable)
	d.setPci(PciCommand, PciCommandMemoryAccessEnable)
	d.setPci(PciCommand, PciCommandInterruptDisable)

	bar0Low := d.readPci(PciBar0Low)
	if bar0Low&PciBar0Type64 == 0 || bar0Low&PciBar0TypeLow != 0 {
		log.Debugf("BAR0 is not a 64-bit BAR: 0x%08x", bar0Low)
		return nil, errors.Wrapf(ErrValidation, "BAR0 0x%08x is not a 64-bit memory BAR", bar0Low)
	}
	bar0High := d.readPci(PciBar0High)
	phys := uint64(bar0High)<<32 | uint64(bar0Low&^PciBar0FlagsMask)

	mapped, err := mem.PhysToVirt(phys, RegisterWindowSize)
	if err != nil {
		log.Debugf("Phys to virt translation failed: %v", err)
		return nil, errors.Wrapf(err, "map BAR0 at 0x%x failed", phys)
	}
	if len(mapped) < RegisterWindowSize {
		_ = mem.Unmap(mapped)
		return nil, errors.Wrapf(ErrAllocation, "BAR0 mapping is %d bytes", len(mapped))
	}
	d.mapped = mapped
	d.regs = mmioWindow(mapped)
	log.Tracef("BAR0 0x%x mapped", phys)

	if err = d.initialize(); err != nil {
		_ = d.Close()
		return nil, err
	}

	log.Info("device initialized")
	return d, nil
}

// initialize 4.6.3 节的初始化流程，要求寄存器窗口已就绪
func (d *Device) initialize() error {
	if err := d.Reset(); err != nil {
		d.log.Debug("could not reset")
		return err
	}

	// 4.6.3.1: 复位后需要再次屏蔽中断；复位后等待10ms再访问
	timer.Spin(10 * time.Millisecond)
	d.Write(EIMC, 0, 0x7FFFFFFF)
	for n := 1; n < InterruptRegistersCount; n++ {
		d.Write(EIMC, n, 0xFFFFFFFF)
	}

	// 4.6.3.2: 在开启流控前必须设置 FCRTH[0].RTH，单位32字节
	d.WriteField(FCRTH, 0, FCRTHRTH, (receivePacketBufferSize-0x6000)/32)

	if err := d.poll("EEPROM auto read", func() bool { return !d.IsFieldCleared(EEC, 0, EECAutoRd) }); err != nil {
		return err
	}
	if d.IsFieldCleared(EEC, 0, EECEEPres) || !d.IsFieldCleared(FWSM, 0, FWSMExtErrInd) {
		d.log.Debug("EEPROM not present or invalid")
		return errors.Wrap(ErrValidation, "EEPROM not present or invalid")
	}

	if err := d.poll("DMA init", func() bool { return !d.IsFieldCleared(RDRXCTL, 0, RDRXCTLDMAIDone) }); err != nil {
		return err
	}

	d.clearFilters()

	// 4.6.7: RDRXCTL 中必须设置的位
	d.SetField(RDRXCTL, 0, RDRXCTLCRCStrip)
	d.SetField(RDRXCTL, 0, RDRXCTLRSCFrstSize)
	d.SetField(RDRXCTL, 0, RDRXCTLRSCACKC)
	d.SetField(RDRXCTL, 0, RDRXCTLFCoEWrFix)

	// 只使用一个流量类别，其余接收包缓冲区大小置0
	for n := 1; n < TrafficClassesCount; n++ {
		d.Clear(RXPBSIZE, n)
	}
	d.SetField(MFLCN, 0, MFLCNRFCE)

	// 4.6.11.3.4: 发送侧配置需要在仲裁关闭期间进行
	d.SetField(RTTDCS, 0, RTTDCSArbDis)
	for n := 1; n < TrafficClassesCount; n++ {
		d.Clear(TXPBSIZE, n)
	}
	d.WriteField(TXPBTHRESH, 0, TXPBTHRESHThresh, uint32(0xA0-d.opts.PacketBufferSize/1024))
	d.WriteField(DTXMXSZRQ, 0, DTXMXSZRQMaxBytesNumReq, 0xFFF)
	d.ClearField(RTTDCS, 0, RTTDCSArbDis)

	return nil
}

// clearFilters 清空所有过滤表，使混杂模式成为唯一决定收包的开关
func (d *Device) clearFilters() {
	for n := 0; n < PFUTA.Count(); n++ {
		d.Clear(PFUTA, n)
	}
	for n := 0; n < PFVLVF.Count(); n++ {
		d.Clear(PFVLVF, n)
	}
	// 接收地址0属于所有池
	d.Write(MPSAR, 0, 0xFFFFFFFF)
	d.Write(MPSAR, 1, 0xFFFFFFFF)
	for n := 2; n < MPSAR.Count(); n++ {
		d.Clear(MPSAR, n)
	}
	for n := 0; n < PFVLVFB.Count(); n++ {
		d.Clear(PFVLVFB, n)
	}
	for n := 0; n < MTA.Count(); n++ {
		d.Clear(MTA, n)
	}
	for n := 0; n < FTQF.Count(); n++ {
		d.ClearField(FTQF, n, FTQFQueueEnable)
	}
}

// SetPromiscuous 打开单播和组播混杂模式。
// 8.2.3.7.1: 修改FCTRL前必须先关闭接收
func (d *Device) SetPromiscuous() error {
	if d.regs == nil {
		return errors.Wrap(ErrValidation, "device is closed")
	}
	wasEnabled := !d.IsFieldCleared(RXCTRL, 0, RXCTRLRxEn)
	if wasEnabled {
		d.ClearField(RXCTRL, 0, RXCTRLRxEn)
	}
	d.SetField(FCTRL, 0, FCTRLUPE)
	d.SetField(FCTRL, 0, FCTRLMPE)
	if wasEnabled {
		d.SetField(RXCTRL, 0, RXCTRLRxEn)
	}
	d.log.Debug("promiscuous mode enabled")
	return nil
}

// Close 归还BAR0映射。之后不能再访问该设备。
func (d *Device) Close() error {
	if d.mapped == nil {
		return nil
	}
	// Stats 可能在其他goroutine中读取寄存器
	d.statsMu.Lock()
	err := d.mem.Unmap(d.mapped)
	d.mapped = nil
	d.regs = nil
	d.statsMu.Unlock()
	if err != nil {
		return errors.Wrap(err, "unmap BAR0 failed")
	}
	return nil
}

func (d *Device) Options() DeviceOptions {
	return d.opts
}

func (d *Device) String() string {
	return fmt.Sprintf("ixgbe(%s)", d.pci.String())
}

// poll 等待cond成立，超时返回 ErrTimeout
func (d *Device) poll(what string, cond func() bool) error {
	if timer.Poll(d.opts.PollTimeout, cond) {
		return nil
	}
	d.log.Debugf("%s timed out", what)
	return errors.Wrapf(ErrTimeout, "%s did not complete within %v", what, d.opts.PollTimeout)
}

func validatePacketBufferSize(size int) error {
	if size <= 0 || size%1024 != 0 || size > PacketBufferSizeMax {
		return errors.Wrapf(ErrValidation, "packet buffer size %d must be a positive multiple of 1024 no larger than %d",
			size, PacketBufferSizeMax)
	}
	return nil
}
