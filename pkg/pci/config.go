package pci

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"starNIC/pkg/numa"
)

var sysfsDevices = "/sys/bus/pci/devices"

// Device 通过 sysfs 的 config 文件访问一个PCI设备的配置空间
type Device struct {
	addr   Address
	config *os.File
	log    *logrus.Entry
}

func Open(addr Address) (*Device, error) {
	d := &Device{
		addr: addr,
		log:  logrus.WithField("module", "pci").WithField("pci", addr.String()),
	}
	f, err := os.OpenFile(d.sysfsPath("config"), os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open config space of %s failed", addr)
	}
	d.config = f
	return d, nil
}

func (d *Device) sysfsPath(format string, args ...interface{}) string {
	return filepath.Join(sysfsDevices, d.addr.String(), fmt.Sprintf(format, args...))
}

// ReadConfig 读取配置空间中的32位寄存器。失败时返回全1，与读取不存在的设备一致。
func (d *Device) ReadConfig(offset uint16) uint32 {
	var b [4]byte
	if _, err := d.config.ReadAt(b[:], int64(offset)); err != nil {
		d.log.Warnf("read config 0x%02x failed: %v", offset, err)
		return 0xFFFFFFFF
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *Device) WriteConfig(offset uint16, value uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	if _, err := d.config.WriteAt(b[:], int64(offset)); err != nil {
		d.log.Warnf("write config 0x%02x failed: %v", offset, err)
	}
}

// NumaNode 返回设备所在的NUMA节点，-1 表示平台没有提供
func (d *Device) NumaNode() (int, error) {
	raw, err := os.ReadFile(d.sysfsPath("numa_node"))
	if err != nil {
		return -1, errors.Wrap(err, "read numa_node failed")
	}
	node, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return -1, errors.Wrapf(err, "parse numa_node %q failed", raw)
	}
	return node, nil
}

// CheckLocal 设备必须与调用线程位于同一NUMA节点，否则DMA要跨节点访问内存。
// 调用者应在之后的整个生命周期内锁定当前线程。
func (d *Device) CheckLocal() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	node, err := d.NumaNode()
	if err != nil {
		return err
	}
	if node < 0 {
		d.log.Debug("platform reports no NUMA affinity")
		return nil
	}
	current, err := numa.CurrentNode()
	if err != nil {
		return err
	}
	if node != current {
		return errors.Errorf("device %s is on NUMA node %d but the current thread is on node %d",
			d.addr, node, current)
	}
	return nil
}

func (d *Device) Address() Address {
	return d.addr
}

func (d *Device) String() string {
	return d.addr.String()
}

func (d *Device) Close() error {
	return d.config.Close()
}
