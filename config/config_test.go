package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starNIC/ixgbe"
)

const sample = `
devices:
  - "83:00.0"
  - "0000:83:00.1"
ring-size: 512
process-period: 16
poll-timeout: 2s
flush-clears-bits: true
rewrite-dst-mac:
  - "02:00:00:00:00:01"
  - "02:00:00:00:00:02"
learning: true
log-level: debug
metrics-listen: "127.0.0.1:9100"
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"83:00.0", "0000:83:00.1"}, c.Devices)
	assert.Equal(t, "127.0.0.1:9100", c.MetricsListen)
	assert.True(t, c.Learning)
	assert.Equal(t, logrus.DebugLevel, c.Level())
	assert.Equal(t, 10*time.Second, c.StatsInterval)

	assert.Equal(t, ixgbe.AgentOptions{
		RingSize:         512,
		PacketBufferSize: ixgbe.DefaultPacketBufferSize,
		TransmitPeriod:   ixgbe.DefaultTransmitPeriod,
		ProcessPeriod:    16,
	}, c.AgentOptions())

	dev := c.DeviceOptions()
	assert.Equal(t, 2*time.Second, dev.PollTimeout)
	assert.True(t, dev.FlushClearsBits)

	macs, err := c.DestinationMACs()
	require.NoError(t, err)
	require.Len(t, macs, 2)
	assert.Equal(t, "02:00:00:00:00:02", macs[1].String())
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(`devices: ["01:00.0", "01:00.1"]`))
	require.NoError(t, err)

	assert.Equal(t, ixgbe.DefaultAgentOptions, c.AgentOptions())
	assert.Equal(t, ixgbe.DefaultDeviceOptions, c.DeviceOptions())
	assert.Equal(t, logrus.InfoLevel, c.Level())
	assert.False(t, c.Takeover)
	assert.False(t, c.Learning)

	macs, err := c.DestinationMACs()
	assert.NoError(t, err)
	assert.Nil(t, macs)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"one device":          `devices: ["01:00.0"]`,
		"bad address":         `devices: ["eth0", "eth1"]`,
		"bad ring size":       "devices: [\"01:00.0\", \"01:00.1\"]\nring-size: 1000",
		"bad buffer size":     "devices: [\"01:00.0\", \"01:00.1\"]\npacket-buffer-size: 1500",
		"bad log level":       "devices: [\"01:00.0\", \"01:00.1\"]\nlog-level: loud",
		"one mac":             "devices: [\"01:00.0\", \"01:00.1\"]\nrewrite-dst-mac: [\"02:00:00:00:00:01\"]",
		"bad mac":             "devices: [\"01:00.0\", \"01:00.1\"]\nrewrite-dst-mac: [\"x\", \"y\"]",
		"zero poll timeout":   "devices: [\"01:00.0\", \"01:00.1\"]\npoll-timeout: 0s",
		"not yaml":            "devices: [",
		"negative interval":   "devices: [\"01:00.0\", \"01:00.1\"]\nstats-interval: -1s",
		"transmit period big": "devices: [\"01:00.0\", \"01:00.1\"]\ntransmit-period: 1024",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestParse_TakeoverAcceptsInterfaceNames(t *testing.T) {
	c, err := Parse([]byte("devices: [\"eth0\", \"eth1\"]\ntakeover: true"))
	require.NoError(t, err)
	assert.True(t, c.Takeover)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, c.RingSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
