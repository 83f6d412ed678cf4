package ixgbe

import (
	"fmt"
	"math/bits"
)

// Reg 设备寄存器（BAR0内）的符号标识，偏移量见 regTable。
type Reg int

const (
	CTRL Reg = iota
	CTRLEXT
	DCARXCTRL
	DCATXCTRL
	DMATXCTL
	DTXMXSZRQ
	EEC
	EIMC
	FCRTH
	FCTRL
	FTQF
	FWSM
	GCREXT
	HLREG0
	MFLCN
	MPSAR
	MTA
	PFUTA
	PFVLVF
	PFVLVFB
	RDBAH
	RDBAL
	RDLEN
	RDRXCTL
	RDT
	RTTDCS
	RXCTRL
	RXDCTL
	RXPBSIZE
	SECRXCTRL
	SECRXSTAT
	SRRCTL
	STATUS
	TDBAH
	TDBAL
	TDLEN
	TDT
	TDWBAH
	TDWBAL
	TXDCTL
	TXPBSIZE
	TXPBTHRESH

	// 统计寄存器，读清零
	CRCERRS
	GPRC
	GPTC
	GORCL
	GORCH
	GOTCL
	GOTCH
	MPC

	numRegs
)

// regDesc 描述一个寄存器的偏移计算规则：
// 标量寄存器只有base；数组寄存器为 base + stride*n；
// split 非零时，n >= split 的部分从 high 开始重新计算。
type regDesc struct {
	name   string
	base   uint32
	stride uint32
	count  int
	split  int
	high   uint32
}

// 8.2.3 节的寄存器表
var regTable = [numRegs]regDesc{
	CTRL:       {name: "CTRL", base: 0x00000},
	CTRLEXT:    {name: "CTRLEXT", base: 0x00018},
	DCARXCTRL:  rxQueueReg("DCARXCTRL", 0x0C),
	DCATXCTRL:  txQueueReg("DCATXCTRL", 0x0C),
	DMATXCTL:   {name: "DMATXCTL", base: 0x04A80},
	DTXMXSZRQ:  {name: "DTXMXSZRQ", base: 0x08100},
	EEC:        {name: "EEC", base: 0x10010},
	EIMC:       {name: "EIMC", base: 0x00AB0, stride: 4, count: InterruptRegistersCount},
	FCRTH:      {name: "FCRTH", base: 0x03260, stride: 4, count: TrafficClassesCount},
	FCTRL:      {name: "FCTRL", base: 0x05080},
	FTQF:       {name: "FTQF", base: 0x0E600, stride: 4, count: FiveTupleFiltersCount},
	FWSM:       {name: "FWSM", base: 0x10148},
	GCREXT:     {name: "GCREXT", base: 0x11050},
	HLREG0:     {name: "HLREG0", base: 0x04240},
	MFLCN:      {name: "MFLCN", base: 0x04294},
	MPSAR:      {name: "MPSAR", base: 0x0A600, stride: 4, count: ReceiveAddrsCount * 2},
	MTA:        {name: "MTA", base: 0x05200, stride: 4, count: MulticastTableArraySize / 32},
	PFUTA:      {name: "PFUTA", base: 0x0F400, stride: 4, count: UnicastTableArraySize / 32},
	PFVLVF:     {name: "PFVLVF", base: 0x0F100, stride: 4, count: VlanFilterCount},
	PFVLVFB:    {name: "PFVLVFB", base: 0x0F200, stride: 4, count: VlanFilterCount * 2},
	RDBAH:      rxQueueReg("RDBAH", 0x04),
	RDBAL:      rxQueueReg("RDBAL", 0x00),
	RDLEN:      rxQueueReg("RDLEN", 0x08),
	RDRXCTL:    {name: "RDRXCTL", base: 0x02F00},
	RDT:        rxQueueReg("RDT", 0x18),
	RTTDCS:     {name: "RTTDCS", base: 0x04900},
	RXCTRL:     {name: "RXCTRL", base: 0x03000},
	RXDCTL:     rxQueueReg("RXDCTL", 0x28),
	RXPBSIZE:   {name: "RXPBSIZE", base: 0x03C00, stride: 4, count: TrafficClassesCount},
	SECRXCTRL:  {name: "SECRXCTRL", base: 0x08D00},
	SECRXSTAT:  {name: "SECRXSTAT", base: 0x08D04},
	SRRCTL:     rxQueueReg("SRRCTL", 0x14),
	STATUS:     {name: "STATUS", base: 0x00008},
	TDBAH:      txQueueReg("TDBAH", 0x04),
	TDBAL:      txQueueReg("TDBAL", 0x00),
	TDLEN:      txQueueReg("TDLEN", 0x08),
	TDT:        txQueueReg("TDT", 0x18),
	TDWBAH:     txQueueReg("TDWBAH", 0x3C),
	TDWBAL:     txQueueReg("TDWBAL", 0x38),
	TXDCTL:     txQueueReg("TXDCTL", 0x28),
	TXPBSIZE:   {name: "TXPBSIZE", base: 0x0CC00, stride: 4, count: TrafficClassesCount},
	TXPBTHRESH: {name: "TXPBTHRESH", base: 0x04950, stride: 4, count: TrafficClassesCount},

	CRCERRS: {name: "CRCERRS", base: 0x04000},
	GPRC:    {name: "GPRC", base: 0x04074},
	GPTC:    {name: "GPTC", base: 0x04080},
	GORCL:   {name: "GORCL", base: 0x04088},
	GORCH:   {name: "GORCH", base: 0x0408C},
	GOTCL:   {name: "GOTCL", base: 0x04090},
	GOTCH:   {name: "GOTCH", base: 0x04094},
	MPC:     {name: "MPC", base: 0x03FA0, stride: 4, count: TrafficClassesCount},
}

// 接收队列寄存器：0-63 在 0x01000 段，64-127 在 0x0D000 段
func rxQueueReg(name string, off uint32) regDesc {
	return regDesc{
		name:   name,
		base:   0x01000 + off,
		stride: 0x40,
		count:  ReceiveQueuesCount,
		split:  64,
		high:   0x0D000 + off,
	}
}

func txQueueReg(name string, off uint32) regDesc {
	return regDesc{
		name:   name,
		base:   0x06000 + off,
		stride: 0x40,
		count:  TransmitQueuesCount,
	}
}

// Offset 返回寄存器第idx个实例在BAR0中的字节偏移，标量寄存器忽略idx。
// 不检查越界，调用者只应传入合法的下标。
func (r Reg) Offset(idx int) uint32 {
	d := &regTable[r]
	if d.count == 0 {
		return d.base
	}
	if d.split != 0 && idx >= d.split {
		return d.high + d.stride*uint32(idx-d.split)
	}
	return d.base + d.stride*uint32(idx)
}

// Count 返回数组寄存器的实例数量，标量寄存器返回1
func (r Reg) Count() int {
	if c := regTable[r].count; c != 0 {
		return c
	}
	return 1
}

func (r Reg) String() string {
	if r < 0 || r >= numRegs {
		return fmt.Sprintf("Reg(%d)", int(r))
	}
	return regTable[r].name
}

// Field 寄存器中具名的位或位段
type Field int

const (
	CTRLMasterDisable Field = iota
	CTRLRst
	CTRLEXTNSDis
	DCARXCTRLUnknown
	DCATXCTRLTxDescWbRoEn
	DMATXCTLTE
	DTXMXSZRQMaxBytesNumReq
	EECEEPres
	EECAutoRd
	FCRTHRTH
	FCTRLMPE
	FCTRLUPE
	FTQFQueueEnable
	FWSMExtErrInd
	GCREXTBuffersClearFunc
	HLREG0Lpbk
	MFLCNRFCE
	RDRXCTLCRCStrip
	RDRXCTLDMAIDone
	RDRXCTLRSCFrstSize
	RDRXCTLRSCACKC
	RDRXCTLFCoEWrFix
	RTTDCSArbDis
	RXCTRLRxEn
	RXDCTLEnable
	SECRXCTRLRxDis
	SECRXSTATSecRxRdy
	SRRCTLBSizePacket
	SRRCTLDropEn
	STATUSPCIeMasterEnableStatus
	TXDCTLPThresh
	TXDCTLHThresh
	TXDCTLEnable
	TXPBTHRESHThresh

	numFields
)

type fieldDesc struct {
	reg  Reg
	name string
	mask uint32
}

var fieldTable = [numFields]fieldDesc{
	CTRLMasterDisable:            {CTRL, "MASTER_DISABLE", bit(2)},
	CTRLRst:                      {CTRL, "RST", bit(26)},
	CTRLEXTNSDis:                 {CTRLEXT, "NS_DIS", bit(16)},
	DCARXCTRLUnknown:             {DCARXCTRL, "UNKNOWN", bit(12)}, // 保留位，无名称，但必须清零
	DCATXCTRLTxDescWbRoEn:        {DCATXCTRL, "TX_DESC_WB_RO_EN", bit(11)},
	DMATXCTLTE:                   {DMATXCTL, "TE", bit(0)},
	DTXMXSZRQMaxBytesNumReq:      {DTXMXSZRQ, "MAX_BYTES_NUM_REQ", bitRange(0, 11)},
	EECEEPres:                    {EEC, "EE_PRES", bit(8)},
	EECAutoRd:                    {EEC, "AUTO_RD", bit(9)},
	FCRTHRTH:                     {FCRTH, "RTH", bitRange(5, 18)},
	FCTRLMPE:                     {FCTRL, "MPE", bit(8)},
	FCTRLUPE:                     {FCTRL, "UPE", bit(9)},
	FTQFQueueEnable:              {FTQF, "QUEUE_ENABLE", bit(31)},
	FWSMExtErrInd:                {FWSM, "EXT_ERR_IND", bitRange(19, 24)},
	GCREXTBuffersClearFunc:       {GCREXT, "BUFFERS_CLEAR_FUNC", bit(30)},
	HLREG0Lpbk:                   {HLREG0, "LPBK", bit(15)},
	MFLCNRFCE:                    {MFLCN, "RFCE", bit(3)},
	RDRXCTLCRCStrip:              {RDRXCTL, "CRC_STRIP", bit(1)},
	RDRXCTLDMAIDone:              {RDRXCTL, "DMAIDONE", bit(3)},
	RDRXCTLRSCFrstSize:           {RDRXCTL, "RSCFRSTSIZE", bitRange(17, 24)},
	RDRXCTLRSCACKC:               {RDRXCTL, "RSCACKC", bit(25)},
	RDRXCTLFCoEWrFix:             {RDRXCTL, "FCOE_WRFIX", bit(26)},
	RTTDCSArbDis:                 {RTTDCS, "ARBDIS", bit(6)},
	RXCTRLRxEn:                   {RXCTRL, "RXEN", bit(0)},
	RXDCTLEnable:                 {RXDCTL, "ENABLE", bit(25)},
	SECRXCTRLRxDis:               {SECRXCTRL, "RX_DIS", bit(1)},
	SECRXSTATSecRxRdy:            {SECRXSTAT, "SECRX_RDY", bit(0)},
	SRRCTLBSizePacket:            {SRRCTL, "BSIZEPACKET", bitRange(0, 4)},
	SRRCTLDropEn:                 {SRRCTL, "DROP_EN", bit(28)},
	STATUSPCIeMasterEnableStatus: {STATUS, "PCIE_MASTER_ENABLE_STATUS", bit(19)},
	TXDCTLPThresh:                {TXDCTL, "PTHRESH", bitRange(0, 6)},
	TXDCTLHThresh:                {TXDCTL, "HTHRESH", bitRange(8, 14)},
	TXDCTLEnable:                 {TXDCTL, "ENABLE", bit(25)},
	TXPBTHRESHThresh:             {TXPBTHRESH, "THRESH", bitRange(0, 9)},
}

func (f Field) Mask() uint32 {
	return fieldTable[f].mask
}

// Reg 返回字段所属的寄存器
func (f Field) Reg() Reg {
	return fieldTable[f].reg
}

func (f Field) shift() uint {
	return uint(bits.TrailingZeros32(fieldTable[f].mask))
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldTable[f].reg.String() + "." + fieldTable[f].name
}

// PciReg PCI配置空间寄存器
type PciReg int

const (
	PciID PciReg = iota
	PciCommand
	PciBar0Low
	PciBar0High
	PciPMCSR
	PciDeviceStatus

	numPciRegs
)

var pciRegTable = [numPciRegs]struct {
	name   string
	offset uint16
}{
	PciID:           {"ID", 0x00},
	PciCommand:      {"COMMAND", 0x04},
	PciBar0Low:      {"BAR0_LOW", 0x10},
	PciBar0High:     {"BAR0_HIGH", 0x14},
	PciPMCSR:        {"PMCSR", 0x44},
	PciDeviceStatus: {"DEVICESTATUS", 0xAA},
}

func (r PciReg) Offset() uint16 {
	return pciRegTable[r].offset
}

func (r PciReg) String() string {
	if r < 0 || r >= numPciRegs {
		return fmt.Sprintf("PciReg(%d)", int(r))
	}
	return "PCI_" + pciRegTable[r].name
}

// PCI配置空间中的位，值即掩码
const (
	PciCommandMemoryAccessEnable      uint32 = 1 << 1
	PciCommandBusMasterEnable         uint32 = 1 << 2
	PciCommandInterruptDisable        uint32 = 1 << 10
	PciDeviceStatusTransactionPending uint32 = 1 << 5
	PciPMCSRPowerState                uint32 = 0x3
	// BAR类型位[2:1]，0b10 表示64位内存BAR
	PciBar0Type64    uint32 = 1 << 2
	PciBar0TypeLow   uint32 = 1 << 1
	PciBar0FlagsMask uint32 = 0xF
)

func bit(n uint) uint32 {
	return 1 << n
}

// bitRange 返回[lo, hi]闭区间的掩码
func bitRange(lo, hi uint) uint32 {
	return uint32((uint64(1)<<(hi+1))-1) &^ (uint32(1)<<lo - 1)
}
