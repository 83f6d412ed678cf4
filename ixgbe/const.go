package ixgbe

import "time"

// 数据手册给出的常量
const (
	FiveTupleFiltersCount   = 128
	InterruptRegistersCount = 2
	MulticastTableArraySize = 4 * 1024
	PacketBufferSizeMax     = 15*1024 + 512
	ReceiveAddrsCount       = 128
	ReceiveQueuesCount      = 128
	TransmitQueuesCount     = 128
	TrafficClassesCount     = 8
	UnicastTableArraySize   = 4 * 1024
	VlanFilterCount         = 64

	// PCI ID 的高16位为设备号，低16位为厂商号
	PciIDVendor82599 = 0x8086
	PciIDDevice82599 = 0x10FB
	PciID82599       = PciIDDevice82599<<16 | PciIDVendor82599

	// BAR0 映射窗口大小
	RegisterWindowSize = 128 * 1024

	// 接收包缓冲区大小，5.3.1 节建议保留 0x6000 给流控
	receivePacketBufferSize = 512 * 1024
)

// 收发引擎相关常量
const (
	OutputsMax = 4

	DescriptorSize = 16

	// 每个输出的 transmit head 之间间隔16个uint32（64字节），保证各自独占一条cache line
	TransmitHeadMultiplier = 16

	DefaultRingSize         = 1024
	DefaultPacketBufferSize = 2048
	DefaultTransmitPeriod   = 64
	DefaultProcessPeriod    = 8

	DefaultPollTimeout = time.Second
)

// 发送描述符 (7.2.3.2.3 legacy) 与接收描述符回写 (7.1.6.1) 中的位
const (
	rxStatusDD    uint64 = 1 << 32
	rxLengthMask  uint64 = 0xFFFF
	txCommandEOP  uint64 = 1 << 24
	txCommandIFCS uint64 = 1 << 25
	txCommandRS   uint64 = 1 << 27

	// TDWBAL 的最低位开启 head write-back
	tdwbalHeadWbEnable uint32 = 1

	txPrefetchThreshold = 60
	txHostThreshold     = 4
)
