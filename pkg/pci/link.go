package pci

import (
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

var sysfsNet = "/sys/class/net"

// LinkAddress 返回网络接口所属PCI设备的地址
func LinkAddress(name string) (Address, error) {
	target, err := os.Readlink(filepath.Join(sysfsNet, name, "device"))
	if err != nil {
		return Address{}, errors.Wrapf(err, "interface %s has no PCI device", name)
	}
	return ParseAddress(filepath.Base(target))
}

// TakeOver 把接口从内核手里拿过来：卸载XDP程序、关闭接口、解绑内核驱动。
// 成功后接口从系统中消失，返回其PCI地址。
func TakeOver(name string) (Address, error) {
	log := logrus.WithField("module", "pci").WithField("link", name)

	link, err := netlink.LinkByName(name)
	if err != nil {
		return Address{}, errors.Wrapf(err, "get link %s failed", name)
	}
	addr, err := LinkAddress(name)
	if err != nil {
		return Address{}, err
	}

	if isXdpAttached(link) {
		logXdpProgram(log, link.Attrs().Xdp.ProgId)
		if err = netlink.LinkSetXdpFd(link, -1); err != nil {
			return Address{}, errors.Wrapf(err, "detach XDP from %s failed", name)
		}
	}

	if err = netlink.LinkSetDown(link); err != nil {
		return Address{}, errors.Wrapf(err, "set %s down failed", name)
	}

	if err = unbindDriver(addr); err != nil {
		return Address{}, err
	}

	log.Infof("taken over as %s", addr)
	return addr, nil
}

func isXdpAttached(link netlink.Link) bool {
	if link.Attrs() != nil {
		if link.Attrs().Xdp != nil {
			return link.Attrs().Xdp.Attached
		}
	}

	return false
}

func logXdpProgram(log *logrus.Entry, id uint32) {
	prog, err := ebpf.NewProgramFromID(ebpf.ProgramID(id))
	if err != nil {
		log.Warnf("detaching XDP program %d", id)
		return
	}
	defer prog.Close()

	info, err := prog.Info()
	if err != nil {
		log.Warnf("detaching XDP program %d", id)
		return
	}
	log.Warnf("detaching XDP program %d (%s)", id, info.Name)
}

// unbindDriver 没有绑定驱动时什么都不做
func unbindDriver(addr Address) error {
	unbind := filepath.Join(sysfsDevices, addr.String(), "driver", "unbind")
	if _, err := os.Stat(unbind); os.IsNotExist(err) {
		return nil
	}
	if err := os.WriteFile(unbind, []byte(addr.String()), 0200); err != nil {
		return errors.Wrapf(err, "unbind driver of %s failed", addr)
	}
	return nil
}
