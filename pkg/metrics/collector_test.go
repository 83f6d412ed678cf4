package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starNIC/ixgbe"
)

type fakeSource struct {
	name  string
	stats ixgbe.Stats
}

func (s *fakeSource) Stats() ixgbe.Stats {
	return s.stats
}

func (s *fakeSource) String() string {
	return s.name
}

func TestCollector(t *testing.T) {
	dev := &fakeSource{
		name: "ixgbe(0000:01:00.0)",
		stats: ixgbe.Stats{
			RxPackets:       10,
			RxBytes:         640,
			TxPackets:       9,
			TxBytes:         576,
			RxCRCErrors:     1,
			RxMissedPackets: 2,
		},
	}
	c := NewCollector([]Source{dev}, func() []uint64 { return []uint64{10, 20} })

	// 每个设备6个计数器，每个引擎1个
	assert.Equal(t, 6+2, testutil.CollectAndCount(c))

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))
	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() == "starnic_agent_packets_total" {
			assert.Equal(t, "Packets forwarded to an output by each agent.", mf.GetHelp())
		}
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetValue()
			}
			values[key] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 10.0, values["starnic_packets_total,ixgbe(0000:01:00.0),rx"])
	assert.Equal(t, 576.0, values["starnic_bytes_total,ixgbe(0000:01:00.0),tx"])
	assert.Equal(t, 2.0, values["starnic_missed_packets_total,ixgbe(0000:01:00.0)"])
	assert.Equal(t, 20.0, values["starnic_agent_packets_total,1"])
}

func TestCollector_WithoutAgents(t *testing.T) {
	c := NewCollector([]Source{&fakeSource{name: "a"}, &fakeSource{name: "b"}}, nil)
	assert.Equal(t, 12, testutil.CollectAndCount(c))
}
