package ixgbe

// Stats 硬件统计计数器的累计值
type Stats struct {
	RxPackets       uint64
	RxBytes         uint64
	TxPackets       uint64
	TxBytes         uint64
	RxCRCErrors     uint64
	RxMissedPackets uint64
}

// Stats 读取统计寄存器并返回累计值，可以与收发热路径并发调用。
// 这些寄存器读后清零，因此每次读取都累加到之前的结果上。
func (d *Device) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	s := &d.stats
	if d.regs != nil {
		s.RxPackets += uint64(d.Read(GPRC, 0))
		s.TxPackets += uint64(d.Read(GPTC, 0))
		s.RxCRCErrors += uint64(d.Read(CRCERRS, 0))
		for n := 0; n < MPC.Count(); n++ {
			s.RxMissedPackets += uint64(d.Read(MPC, n))
		}
		// 8.2.3.23: 64位字节计数器需要先读低32位
		s.RxBytes += d.read64(GORCL, GORCH)
		s.TxBytes += d.read64(GOTCL, GOTCH)
	}
	return *s
}

func (d *Device) read64(low, high Reg) uint64 {
	l := d.Read(low, 0)
	h := d.Read(high, 0)
	return uint64(h)<<32 | uint64(l)
}
