package layers

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthernet_GetAll(t *testing.T) {
	p := []byte{
		0x94, 0x94, 0x26, 0x01, 0x02, 0x03,
		0x04, 0x05, 0x06, 0x07, 0x08, 0x09,
		0x08, 0x00,
		0x45, 0x00,
	}

	eth, ok := NewEthernet(p)
	require.True(t, ok)
	assert.Equal(t, "94:94:26:01:02:03", eth.GetDstAddress().String())
	assert.Equal(t, "04:05:06:07:08:09", eth.GetSrcAddress().String())
	assert.Equal(t, EthernetTypeIPv4, eth.GetEthernetType())
	assert.Len(t, eth, EthernetHeaderLen)
}

func TestEthernet_SetAll(t *testing.T) {
	p := make([]byte, 64)

	eth, ok := NewEthernet(p)
	require.True(t, ok)
	eth.SetDstAddress(net.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	eth.SetSrcAddress(net.HardwareAddr{0x06, 0x05, 0x04, 0x03, 0x02, 0x01})
	eth.SetEthernetType(EthernetTypeARP)

	assert.Equal(t, []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06,
		0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x08, 0x06,
	}, p[:14])
	assert.Zero(t, p[14])
}

func TestEthernet_SwapAddresses(t *testing.T) {
	p := []byte{
		1, 1, 1, 1, 1, 1,
		2, 2, 2, 2, 2, 2,
		0x86, 0xDD,
	}

	eth, _ := NewEthernet(p)
	eth.SwapAddresses()
	assert.Equal(t, net.HardwareAddr{2, 2, 2, 2, 2, 2}, eth.GetDstAddress())
	assert.Equal(t, net.HardwareAddr{1, 1, 1, 1, 1, 1}, eth.GetSrcAddress())
	assert.Equal(t, EthernetTypeIPv6, eth.GetEthernetType())
}

func TestNewEthernet_Short(t *testing.T) {
	_, ok := NewEthernet(make([]byte, 13))
	assert.False(t, ok)
}
