package ixgbe

import "github.com/pkg/errors"

// AgentOptions 收发引擎参数
type AgentOptions struct {
	// RingSize 描述符环大小，2的幂，且为128的倍数
	RingSize int
	// PacketBufferSize 每个描述符对应的缓冲区大小，1024的倍数
	PacketBufferSize int
	// TransmitPeriod 每隔多少个描述符请求一次 Report Status（head write-back）
	TransmitPeriod int
	// ProcessPeriod 每处理多少个包写一次 tail 寄存器
	ProcessPeriod int
}

var DefaultAgentOptions = AgentOptions{
	RingSize:         DefaultRingSize,
	PacketBufferSize: DefaultPacketBufferSize,
	TransmitPeriod:   DefaultTransmitPeriod,
	ProcessPeriod:    DefaultProcessPeriod,
}

func (o *AgentOptions) Validate() error {
	if !isPowerOfTwo(o.RingSize) || o.RingSize < 128 || o.RingSize%128 != 0 {
		return errors.Wrapf(ErrValidation, "ring size %d must be a power of two and a multiple of 128", o.RingSize)
	}
	if err := validatePacketBufferSize(o.PacketBufferSize); err != nil {
		return err
	}
	if !isPowerOfTwo(o.TransmitPeriod) || o.TransmitPeriod >= o.RingSize {
		return errors.Wrapf(ErrValidation, "transmit period %d must be a power of two below the ring size", o.TransmitPeriod)
	}
	if !isPowerOfTwo(o.ProcessPeriod) || o.ProcessPeriod >= o.RingSize {
		return errors.Wrapf(ErrValidation, "process period %d must be a power of two below the ring size", o.ProcessPeriod)
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
