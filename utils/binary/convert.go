package binary

func Swap16(i uint16) uint16 {
	return (i<<8)&0xff00 | i>>8
}

func Swap32(i uint32) uint32 {
	b0 := (i & 0x000000ff) << 24
	b1 := (i & 0x0000ff00) << 8
	b2 := (i & 0x00ff0000) >> 8
	b3 := (i & 0xff000000) >> 24

	return b0 | b1 | b2 | b3
}

func Swap64(i uint64) uint64 {
	return uint64(Swap32(uint32(i)))<<32 | uint64(Swap32(uint32(i>>32)))
}

// Htons16 主机序转网络序（大端）
func Htons16(i uint16) uint16 {
	if nativeBigEndian {
		return i
	}
	return Swap16(i)
}

// LittleEndian32 在主机序与小端序之间转换，两个方向是同一个操作。
// 网卡寄存器和描述符均为小端。
func LittleEndian32(i uint32) uint32 {
	if nativeBigEndian {
		return Swap32(i)
	}
	return i
}

// LittleEndian64 同 LittleEndian32
func LittleEndian64(i uint64) uint64 {
	if nativeBigEndian {
		return Swap64(i)
	}
	return i
}
