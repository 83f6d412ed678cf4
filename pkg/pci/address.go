package pci

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Address PCI设备地址 domain:bus:device.function
type Address struct {
	Domain   uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

// ParseAddress 解析十六进制的 "bb:dd.f" 或 "dddd:bb:dd.f"，省略domain时为0
func ParseAddress(s string) (Address, error) {
	var (
		a                  Address
		domain             uint32
		bus, device, funct uint32
		n                  int
		err                error
	)
	switch len(s) {
	case len("00:00.0"):
		n, err = fmt.Sscanf(s, "%02x:%02x.%1x", &bus, &device, &funct)
		if n != 3 {
			return a, errors.Errorf("invalid PCI address %q: %v", s, err)
		}
	case len("0000:00:00.0"):
		n, err = fmt.Sscanf(s, "%04x:%02x:%02x.%1x", &domain, &bus, &device, &funct)
		if n != 4 {
			return a, errors.Errorf("invalid PCI address %q: %v", s, err)
		}
	default:
		return a, errors.Errorf("invalid PCI address %q", s)
	}

	if device >= 32 || funct >= 8 {
		return a, errors.Errorf("PCI address %q out of range", s)
	}
	a = Address{
		Domain:   uint16(domain),
		Bus:      uint8(bus),
		Device:   uint8(device),
		Function: uint8(funct),
	}
	// Sscanf 会接受 "+1" 之类的写法，这里要求完全一致
	if full := a.String(); !strings.EqualFold(full, s) && !strings.EqualFold(full[len("0000:"):], s) {
		return Address{}, errors.Errorf("invalid PCI address %q", s)
	}
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}
