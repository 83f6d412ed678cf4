package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"starNIC/ixgbe"
)

// Source 能够提供硬件计数器的设备
type Source interface {
	Stats() ixgbe.Stats
	String() string
}

// Forwarded 返回每个收发引擎已转发到输出的包数，被丢弃的包不计入。由调用者负责并发安全
type Forwarded func() []uint64

// collector implements prometheus.Collector, reading device counters on each scrape.
type collector struct {
	devices   []Source
	forwarded Forwarded

	packetsTotal       *prometheus.Desc
	bytesTotal         *prometheus.Desc
	crcErrorsTotal     *prometheus.Desc
	missedPacketsTotal *prometheus.Desc
	forwardedTotal     *prometheus.Desc
}

// NewCollector forwarded 可以为nil
func NewCollector(devices []Source, forwarded Forwarded) prometheus.Collector {
	return &collector{
		devices:   devices,
		forwarded: forwarded,

		packetsTotal: prometheus.NewDesc(
			"starnic_packets_total",
			"Good packets counted by the NIC.",
			[]string{"device", "direction"}, nil,
		),
		bytesTotal: prometheus.NewDesc(
			"starnic_bytes_total",
			"Good octets counted by the NIC.",
			[]string{"device", "direction"}, nil,
		),
		crcErrorsTotal: prometheus.NewDesc(
			"starnic_crc_errors_total",
			"Received packets with CRC errors.",
			[]string{"device"}, nil,
		),
		missedPacketsTotal: prometheus.NewDesc(
			"starnic_missed_packets_total",
			"Packets dropped because no receive descriptor was available.",
			[]string{"device"}, nil,
		),
		forwardedTotal: prometheus.NewDesc(
			"starnic_agent_packets_total",
			"Packets forwarded to an output by each agent.",
			[]string{"agent"}, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsTotal
	ch <- c.bytesTotal
	ch <- c.crcErrorsTotal
	ch <- c.missedPacketsTotal
	ch <- c.forwardedTotal
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, dev := range c.devices {
		name := dev.String()
		s := dev.Stats()

		ch <- prometheus.MustNewConstMetric(c.packetsTotal, prometheus.CounterValue, float64(s.RxPackets), name, "rx")
		ch <- prometheus.MustNewConstMetric(c.packetsTotal, prometheus.CounterValue, float64(s.TxPackets), name, "tx")
		ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(s.RxBytes), name, "rx")
		ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(s.TxBytes), name, "tx")
		ch <- prometheus.MustNewConstMetric(c.crcErrorsTotal, prometheus.CounterValue, float64(s.RxCRCErrors), name)
		ch <- prometheus.MustNewConstMetric(c.missedPacketsTotal, prometheus.CounterValue, float64(s.RxMissedPackets), name)
	}

	if c.forwarded == nil {
		return
	}
	for n, count := range c.forwarded() {
		ch <- prometheus.MustNewConstMetric(c.forwardedTotal, prometheus.CounterValue, float64(count), strconv.Itoa(n))
	}
}
