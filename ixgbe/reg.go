package ixgbe

import (
	"sync/atomic"
	"unsafe"

	"starNIC/utils/binary"
)

// window 寄存器窗口的32位访问原语。
// 所有寄存器访问都经过这里，实现必须保证每次访问都真正落到硬件上，不被缓存或重排。
type window interface {
	load32(off uint32) uint32
	store32(off uint32, v uint32)
}

// mmioWindow 映射到进程地址空间的BAR0
type mmioWindow []byte

func (w mmioWindow) load32(off uint32) uint32 {
	p := (*uint32)(unsafe.Pointer(&w[off]))
	return binary.LittleEndian32(atomic.LoadUint32(p))
}

func (w mmioWindow) store32(off uint32, v uint32) {
	p := (*uint32)(unsafe.Pointer(&w[off]))
	atomic.StoreUint32(p, binary.LittleEndian32(v))
}

// Read 读取寄存器第idx个实例，标量寄存器idx传0
func (d *Device) Read(reg Reg, idx int) uint32 {
	return d.regs.load32(reg.Offset(idx))
}

func (d *Device) Write(reg Reg, idx int, v uint32) {
	d.regs.store32(reg.Offset(idx), v)
}

// Clear 将整个寄存器写0
func (d *Device) Clear(reg Reg, idx int) {
	d.Write(reg, idx, 0)
}

// ReadField 返回 (raw & mask) >> 掩码末尾0的个数
func (d *Device) ReadField(reg Reg, idx int, f Field) uint32 {
	return (d.Read(reg, idx) & f.Mask()) >> f.shift()
}

// WriteField 读-改-写，只替换字段f的位，其余位保持不变。
// v 超出字段宽度的部分会被截掉。
func (d *Device) WriteField(reg Reg, idx int, f Field, v uint32) {
	off := reg.Offset(idx)
	mask := f.Mask()
	old := d.regs.load32(off)
	d.regs.store32(off, (old&^mask)|((v<<f.shift())&mask))
}

// SetField 将字段f的所有位置1
func (d *Device) SetField(reg Reg, idx int, f Field) {
	off := reg.Offset(idx)
	d.regs.store32(off, d.regs.load32(off)|f.Mask())
}

// ClearField 将字段f的所有位清0
func (d *Device) ClearField(reg Reg, idx int, f Field) {
	off := reg.Offset(idx)
	d.regs.store32(off, d.regs.load32(off)&^f.Mask())
}

// IsFieldCleared 字段f的所有位均为0时返回true
func (d *Device) IsFieldCleared(reg Reg, idx int, f Field) bool {
	return d.Read(reg, idx)&f.Mask() == 0
}

func (d *Device) readPci(r PciReg) uint32 {
	v := d.pci.ReadConfig(r.Offset())
	d.log.Tracef("read %s -> 0x%08x", r, v)
	return v
}

func (d *Device) writePci(r PciReg, v uint32) {
	d.log.Tracef("write %s := 0x%08x", r, v)
	d.pci.WriteConfig(r.Offset(), v)
}

func (d *Device) setPci(r PciReg, mask uint32) {
	d.writePci(r, d.readPci(r)|mask)
}

func (d *Device) isPciCleared(r PciReg, mask uint32) bool {
	return d.readPci(r)&mask == 0
}

// register 记录一个寄存器地址，热路径上直接写入，不再查表
type register struct {
	regs window
	off  uint32
}

func (r register) write(v uint32) {
	r.regs.store32(r.off, v)
}
