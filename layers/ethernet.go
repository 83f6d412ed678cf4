package layers

import (
	"net"
	"unsafe"

	"starNIC/utils/binary"
)

type EthernetType uint16

const (
	EthernetTypeIPv4  EthernetType = 0x0800
	EthernetTypeARP   EthernetType = 0x0806
	EthernetTypeIPv6  EthernetType = 0x86DD
	EthernetTypeDot1Q EthernetType = 0x8100
	EthernetTypeQinQ  EthernetType = 0x88a8
)

// EthernetHeaderLen 不含VLAN标签的以太网头长度
const EthernetHeaderLen = 14

// Ethernet 以太网帧头的视图，直接修改底层的包缓冲区。
// [0:6] 为 DstMAC，[6:12] 为 SrcMAC，[12:14] 为网络序的 EthernetType
type Ethernet []byte

// NewEthernet 包长度不足一个以太网头时返回false
func NewEthernet(packet []byte) (Ethernet, bool) {
	if len(packet) < EthernetHeaderLen {
		return nil, false
	}
	return Ethernet(packet[:EthernetHeaderLen:EthernetHeaderLen]), true
}

func (e Ethernet) GetDstAddress() net.HardwareAddr {
	return net.HardwareAddr(e[0:6])
}

func (e Ethernet) GetSrcAddress() net.HardwareAddr {
	return net.HardwareAddr(e[6:12])
}

func (e Ethernet) GetEthernetType() EthernetType {
	return EthernetType(binary.Htons16(*(*uint16)(unsafe.Pointer(&e[12]))))
}

func (e Ethernet) SetDstAddress(addr net.HardwareAddr) {
	copy(e[0:6], addr[0:6])
}

func (e Ethernet) SetSrcAddress(addr net.HardwareAddr) {
	copy(e[6:12], addr[0:6])
}

func (e Ethernet) SetEthernetType(typ EthernetType) {
	*(*uint16)(unsafe.Pointer(&e[12])) = binary.Htons16(uint16(typ))
}

// SwapAddresses 交换源与目的MAC，用于把包原路反射回去
func (e Ethernet) SwapAddresses() {
	var tmp [6]byte
	copy(tmp[:], e[0:6])
	copy(e[0:6], e[6:12])
	copy(e[6:12], tmp[:])
}
