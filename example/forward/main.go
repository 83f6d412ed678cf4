package main

import (
	"flag"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"starNIC/bd"
	"starNIC/config"
	"starNIC/ixgbe"
	"starNIC/pkg/memory"
	"starNIC/pkg/metrics"
	"starNIC/pkg/pci"
)

// 退出码：每个设备占一段，第n个设备的失败为 code + 100*n
const (
	exitAgent       = 2
	exitDevice      = 3
	exitPromiscuous = 4
	exitInput       = 5
	exitOutput      = 6
)

func main() {
	configPath := flag.String("config", "forward.yaml", "path to config YAML file")
	logLevel := flag.String("log-level", "", "overwrite log level")
	metricsListen := flag.String("listen", "", "overwrite metrics and pprof http server address, such as '0.0.0.0:9100'")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err = overrideConfig(conf, *logLevel, *metricsListen); err != nil {
		log.Fatal(err)
	}

	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(conf.Level())

	// 大页使用 MAP_LOCKED
	if err = rlimit.RemoveMemlock(); err != nil {
		log.Fatalf("failed to set memlock rlimit: %v", err)
	}

	addrs, err := resolveDevices(conf)
	if err != nil {
		log.Fatal(err)
	}
	macs, _ := conf.DestinationMACs()

	// 设备与内存的NUMA检查都以当前线程为准，初始化期间不能换线程
	runtime.LockOSThread()

	mem, err := memory.NewHugepage(nil)
	if err != nil {
		log.Fatal(err)
	}

	agentOptions := conf.AgentOptions()
	deviceOptions := conf.DeviceOptions()
	agents := make([]*ixgbe.Agent, len(addrs))
	devices := make([]*ixgbe.Device, len(addrs))
	for n, addr := range addrs {
		agents[n], err = ixgbe.NewAgent(mem, &agentOptions)
		if err != nil {
			fail(exitAgent, n, err, "couldn't create agent")
		}

		devices[n], err = openDevice(mem, addr, &deviceOptions)
		if err != nil {
			fail(exitDevice, n, err, "couldn't init device")
		}

		if err = devices[n].SetPromiscuous(); err != nil {
			fail(exitPromiscuous, n, err, "couldn't make device promiscuous")
		}

		if err = agents[n].BindInput(devices[n]); err != nil {
			fail(exitInput, n, err, "couldn't set agent input")
		}
	}
	for n := range agents {
		if err = agents[n].BindOutput(devices[len(devices)-1-n], 0); err != nil {
			fail(exitOutput, n, err, "couldn't set agent output")
		}
	}

	forwarded := make([]uint64, len(agents))
	if conf.MetricsListen != "" {
		serveMetrics(conf.MetricsListen, devices, forwarded)
	}
	if conf.StatsInterval > 0 {
		go logRates(conf.StatsInterval, devices)
	}

	var fdb *bd.FDB
	if conf.Learning {
		fdb = bd.NewFDB()
	}
	for n := range agents {
		var dst net.HardwareAddr
		if macs != nil {
			dst = macs[n]
		}
		go forward(agents[n], newHandler(n, dst, fdb, &forwarded[n]))
	}
	log.Info("forwarding")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	<-sc
	log.Info("exiting")
	os.Exit(0)
}

// overrideConfig 用非空的命令行参数覆盖配置文件，覆盖后重新校验
func overrideConfig(conf *config.Config, logLevel string, metricsListen string) error {
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	if metricsListen != "" {
		conf.MetricsListen = metricsListen
	}
	return conf.Validate()
}

func fail(code int, n int, err error, msg string) {
	log.WithField("device", n).Errorf("%s: %v", msg, err)
	os.Exit(code + 100*n)
}

func resolveDevices(conf *config.Config) ([]pci.Address, error) {
	addrs := make([]pci.Address, len(conf.Devices))
	for n, dev := range conf.Devices {
		var err error
		if conf.Takeover {
			addrs[n], err = pci.TakeOver(dev)
		} else {
			addrs[n], err = pci.ParseAddress(dev)
		}
		if err != nil {
			return nil, err
		}
	}
	return addrs, nil
}

func openDevice(mem ixgbe.Allocator, addr pci.Address, options *ixgbe.DeviceOptions) (*ixgbe.Device, error) {
	cfg, err := pci.Open(addr)
	if err != nil {
		return nil, err
	}
	if err = cfg.CheckLocal(); err != nil {
		cfg.Close()
		return nil, err
	}
	dev, err := ixgbe.NewDevice(mem, cfg, options)
	if err != nil {
		cfg.Close()
		return nil, err
	}
	return dev, nil
}

// forward 独占一个线程
func forward(agent *ixgbe.Agent, handler ixgbe.PacketHandler) {
	runtime.LockOSThread()
	for {
		agent.Process(handler)
	}
}

func serveMetrics(listen string, devices []*ixgbe.Device, forwarded []uint64) {
	sources := make([]metrics.Source, len(devices))
	for n, dev := range devices {
		sources[n] = dev
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(sources, func() []uint64 {
		counts := make([]uint64, len(forwarded))
		for n := range forwarded {
			counts[n] = atomic.LoadUint64(&forwarded[n])
		}
		return counts
	}))

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(listen, nil); err != nil {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
	log.Infof("serving metrics on %s", listen)
}

func logRates(interval time.Duration, devices []*ixgbe.Device) {
	last := make([]ixgbe.Stats, len(devices))
	tc := time.NewTicker(interval)
	defer tc.Stop()
	for {
		<-tc.C
		seconds := interval.Seconds()
		for n, dev := range devices {
			s := dev.Stats()
			rxPkts := float64(s.RxPackets-last[n].RxPackets) / seconds
			txPkts := float64(s.TxPackets-last[n].TxPackets) / seconds
			rxBytes := float64(s.RxBytes-last[n].RxBytes) / seconds
			txBytes := float64(s.TxBytes-last[n].TxBytes) / seconds
			log.WithField("device", dev.String()).Infof("rx %s pps (%s/s), tx %s pps (%s/s), missed %s",
				humanize.Comma(int64(rxPkts)), humanize.Bytes(uint64(rxBytes)),
				humanize.Comma(int64(txPkts)), humanize.Bytes(uint64(txBytes)),
				humanize.Comma(int64(s.RxMissedPackets)))
			last[n] = s
		}
	}
}
