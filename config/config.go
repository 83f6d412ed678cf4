package config

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"starNIC/ixgbe"
	"starNIC/pkg/pci"
)

// Config 转发程序的配置，对应YAML文件
type Config struct {
	// Devices 两个PCI地址，或者 takeover 时的两个内核网卡名
	Devices  []string `yaml:"devices"`
	Takeover bool     `yaml:"takeover"`

	RingSize         int           `yaml:"ring-size"`
	PacketBufferSize int           `yaml:"packet-buffer-size"`
	TransmitPeriod   int           `yaml:"transmit-period"`
	ProcessPeriod    int           `yaml:"process-period"`
	PollTimeout      time.Duration `yaml:"poll-timeout"`
	FlushClearsBits  bool          `yaml:"flush-clears-bits"`

	// RewriteDstMAC 非空时，从第n个设备收到的包在转发前把目的MAC改为第n项
	RewriteDstMAC []string `yaml:"rewrite-dst-mac"`
	// Learning 学习源MAC所在的端口，目的主机与来源在同一侧的包不再转发
	Learning bool `yaml:"learning"`

	LogLevel      string        `yaml:"log-level"`
	MetricsListen string        `yaml:"metrics-listen"`
	StatsInterval time.Duration `yaml:"stats-interval"`
}

func Default() Config {
	return Config{
		RingSize:         ixgbe.DefaultRingSize,
		PacketBufferSize: ixgbe.DefaultPacketBufferSize,
		TransmitPeriod:   ixgbe.DefaultTransmitPeriod,
		ProcessPeriod:    ixgbe.DefaultProcessPeriod,
		PollTimeout:      ixgbe.DefaultPollTimeout,
		LogLevel:         "info",
		StatsInterval:    10 * time.Second,
	}
}

// Load 读取并校验配置文件，文件中没有出现的字段保持默认值
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s failed", path)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrap(err, "parse config failed")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if len(c.Devices) != 2 {
		return errors.Errorf("exactly 2 devices are required, got %d", len(c.Devices))
	}
	if !c.Takeover {
		for _, dev := range c.Devices {
			if _, err := pci.ParseAddress(dev); err != nil {
				return err
			}
		}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log-level")
	}
	if _, err := c.DestinationMACs(); err != nil {
		return err
	}
	if c.StatsInterval < 0 {
		return errors.Errorf("stats-interval %v must not be negative", c.StatsInterval)
	}

	agent := c.AgentOptions()
	if err := agent.Validate(); err != nil {
		return errors.WithMessage(err, "invalid agent options")
	}
	device := c.DeviceOptions()
	if err := device.Validate(); err != nil {
		return errors.WithMessage(err, "invalid device options")
	}
	return nil
}

func (c *Config) AgentOptions() ixgbe.AgentOptions {
	return ixgbe.AgentOptions{
		RingSize:         c.RingSize,
		PacketBufferSize: c.PacketBufferSize,
		TransmitPeriod:   c.TransmitPeriod,
		ProcessPeriod:    c.ProcessPeriod,
	}
}

func (c *Config) DeviceOptions() ixgbe.DeviceOptions {
	return ixgbe.DeviceOptions{
		PollTimeout:      c.PollTimeout,
		PacketBufferSize: c.PacketBufferSize,
		FlushClearsBits:  c.FlushClearsBits,
	}
}

// DestinationMACs 没有配置时返回nil，否则每个设备一项
func (c *Config) DestinationMACs() ([]net.HardwareAddr, error) {
	if len(c.RewriteDstMAC) == 0 {
		return nil, nil
	}
	if len(c.RewriteDstMAC) != len(c.Devices) {
		return nil, errors.Errorf("rewrite-dst-mac needs %d entries, got %d", len(c.Devices), len(c.RewriteDstMAC))
	}
	macs := make([]net.HardwareAddr, len(c.RewriteDstMAC))
	for n, s := range c.RewriteDstMAC {
		mac, err := net.ParseMAC(s)
		if err != nil || len(mac) != 6 {
			return nil, errors.Errorf("invalid rewrite-dst-mac %q", s)
		}
		macs[n] = mac
	}
	return macs, nil
}

func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
