// Command routingd is the process entrypoint: it loads configuration,
// stands up the operational HTTP surface and the optional southbound
// audit sink, then starts one event-loop instance per configured
// [bgp]/[ospf]/[ldp] instance and blocks until an interrupt signal
// drains them all.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/holo-routing/routingd/internal/bgp"
	"github.com/holo-routing/routingd/internal/config"
	routingdhttp "github.com/holo-routing/routingd/internal/http"
	"github.com/holo-routing/routingd/internal/ibus"
	"github.com/holo-routing/routingd/internal/ldp"
	"github.com/holo-routing/routingd/internal/metrics"
	"github.com/holo-routing/routingd/internal/ospf"
	"github.com/holo-routing/routingd/internal/southbound"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "validate-config":
		runValidateConfig()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "routingd: unknown subcommand %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: routingd <command> [config-path]

Commands:
  serve             Start bgpd/ospfd/ldpd instances and the operational HTTP surface
  validate-config   Parse and validate a config file, then exit
  --help            Show this message`)
}

func configPath() string {
	if len(os.Args) > 2 {
		return os.Args[2]
	}
	return "routingd.yaml"
}

func runValidateConfig() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "routingd: invalid config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("routingd: config OK (%d bgp, %d ospf, %d ldp instance(s))\n", len(cfg.BGP), len(cfg.OSPF), len(cfg.LDP))
}

func runServe() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "routingd: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Service.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routingd: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fib, pool := buildSouthbound(ctx, cfg, logger)
	if pool != nil {
		defer pool.Close()
	}

	producer, consumer := buildIBus(cfg, logger)
	if producer != nil {
		defer producer.Close()
	}
	if consumer != nil {
		defer consumer.Close()
	}

	instances := map[string]routingdhttp.InstanceStatus{}
	ibusTargets := map[string][]chan<- any{}
	var wg sync.WaitGroup

	for _, bc := range cfg.BGP {
		inst := bgp.NewInstance(bc.Name, bgpInstanceTree(bc), fib, logger)
		instances["bgp/"+bc.Name] = inst
		ibusTargets[bc.Name] = append(ibusTargets[bc.Name], inst.Loop.IBusIn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Loop.Run(ctx)
		}()
	}
	for _, oc := range cfg.OSPF {
		inst := ospf.NewInstance(oc.Name, ospfInstanceTree(oc), fib, logger)
		instances["ospf/"+oc.Name] = inst
		ibusTargets[oc.Name] = append(ibusTargets[oc.Name], inst.Loop.IBusIn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Loop.Run(ctx)
		}()
	}
	for _, lc := range cfg.LDP {
		inst := ldp.NewInstance(lc.Name, ldpInstanceTree(lc), fib, logger)
		instances["ldp/"+lc.Name] = inst
		ibusTargets[lc.Name] = append(ibusTargets[lc.Name], inst.Loop.IBusIn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Loop.Run(ctx)
		}()
	}

	var ibusStatus routingdhttp.IBusStatus
	if consumer != nil {
		ibusStatus = consumer
		wg.Add(1)
		go func() {
			defer wg.Done()
			runIBusFanIn(ctx, consumer, ibusTargets, logger)
		}()
	}
	srv := routingdhttp.NewServer(cfg.Service.HTTPListen, pool, ibusStatus, instances, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("starting HTTP server", zap.Error(err))
	}

	logger.Info("routingd started",
		zap.Int("bgp_instances", len(cfg.BGP)),
		zap.Int("ospf_instances", len(cfg.OSPF)),
		zap.Int("ldp_instances", len(cfg.LDP)))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining instances")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("routingd stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

// buildSouthbound wires the optional audit-log sink: an empty DSN
// disables it entirely and every instance falls back to a
// NoopFIBWriter.
func buildSouthbound(ctx context.Context, cfg *config.Config, logger *zap.Logger) (southbound.FIBWriter, *pgxpool.Pool) {
	if cfg.Southbound.DSN == "" {
		return southbound.NoopFIBWriter{Logger: logger}, nil
	}

	pool, err := southbound.NewPool(ctx, cfg.Southbound.DSN, cfg.Southbound.MaxConns, cfg.Southbound.MinConns)
	if err != nil {
		logger.Warn("southbound audit sink unavailable, falling back to noop", zap.Error(err))
		return southbound.NoopFIBWriter{Logger: logger}, nil
	}

	migrationsDir := filepath.Join(filepath.Dir(exePath()), "migrations")
	if _, statErr := os.Stat(migrationsDir); statErr != nil {
		migrationsDir = "migrations"
	}
	if err := southbound.RunMigrations(ctx, pool, migrationsDir, logger); err != nil {
		logger.Warn("southbound migrations failed, audit sink disabled", zap.Error(err))
		pool.Close()
		return southbound.NoopFIBWriter{Logger: logger}, nil
	}

	writer := southbound.NewAuditWriter(pool, logger)
	return southbound.AuditFIBWriter{Inner: southbound.NoopFIBWriter{Logger: logger}, Writer: writer}, pool
}

func exePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return exe
}

// buildIBus wires the cross-process event bus. Without brokers
// configured, IBUS is simply unused: interface/address/redistribute
// events never cross the process boundary, which is a valid single-
// daemon deployment.
func buildIBus(cfg *config.Config, logger *zap.Logger) (*ibus.Producer, *ibus.Consumer) {
	if len(cfg.IBus.Brokers) == 0 {
		return nil, nil
	}

	producer, err := ibus.NewProducer(cfg.IBus.Brokers, cfg.IBus.ClientID, logger)
	if err != nil {
		logger.Warn("ibus producer unavailable", zap.Error(err))
		return nil, nil
	}

	consumer, err := ibus.NewConsumer(cfg.IBus.Brokers, cfg.IBus.GroupID, []ibus.EventClass{
		ibus.ClassInterface, ibus.ClassAddress, ibus.ClassRedistribute, ibus.ClassRouteToFIB,
	}, cfg.IBus.ClientID, logger)
	if err != nil {
		logger.Warn("ibus consumer unavailable", zap.Error(err))
		producer.Close()
		return nil, nil
	}

	return producer, consumer
}

// runIBusFanIn drains the consumer and routes each decoded record to
// every local instance whose name matches rec.Instance (a BGP, OSPF, and
// LDP instance may legitimately share one configured name), then acks
// the record once it has been handed off so the consumer can commit
// its offset.
func runIBusFanIn(ctx context.Context, consumer *ibus.Consumer, targets map[string][]chan<- any, logger *zap.Logger) {
	out := make(chan ibus.Record, 64)
	acked := make(chan ibus.Record, 64)
	go consumer.Run(ctx, out, acked)

	for {
		select {
		case <-ctx.Done():
			close(acked)
			return
		case rec, ok := <-out:
			if !ok {
				close(acked)
				return
			}
			for _, ch := range targets[rec.Instance] {
				select {
				case ch <- rec:
				case <-ctx.Done():
				}
			}
			select {
			case acked <- rec:
			case <-ctx.Done():
			}
		}
	}
}

func bgpInstanceTree(c config.BGPInstanceConfig) bgp.InstanceTree {
	neighbors := make(map[string]bgp.NeighborConfig, len(c.Neighbors))
	for _, n := range c.Neighbors {
		neighbors[n.Address] = bgp.NeighborConfig{
			Address:      n.Address,
			PeerAS:       n.PeerAS,
			LocalAS:      n.LocalAS,
			EBGPMultihop: n.EBGPMultihop,
			TTLSecurity:  n.TTLSecurity,
			MD5Key:       n.MD5Key,
			HoldTime:     n.HoldTimeSecs,
			Passive:      n.PassiveMode,
		}
	}
	return bgp.InstanceTree{
		LocalAS:     c.LocalAS,
		RouterID:    c.RouterID,
		FourOctetAS: c.FourOctetAS,
		Neighbors:   neighbors,
		DecisionConfig: bgp.DecisionConfig{
			IgnoreASPathLength:     c.Decision.IgnoreASPathLength,
			EnableMED:              c.Decision.EnableMED,
			AlwaysCompareMED:       c.Decision.AlwaysCompareMED,
			IgnoreNextHopIGPMetric: c.Decision.IgnoreNextHopIGPMetric,
			EBGPMaxPaths:           c.Decision.EBGPMaxPaths,
			IBGPMaxPaths:           c.Decision.IBGPMaxPaths,
			EBGPAllowMultipleAS:    c.Decision.EBGPAllowMultipleAS,
		},
	}
}

func ospfInstanceTree(c config.OSPFInstanceConfig) ospf.InstanceTree {
	interfaces := make(map[string]ospf.InterfaceConfig)
	for _, area := range c.Areas {
		for _, iface := range area.Interfaces {
			interfaces[iface.Name] = ospf.InterfaceConfig{
				Name:      iface.Name,
				AreaID:    area.AreaID,
				Priority:  iface.Priority,
				Cost:      iface.Cost,
				HelloSecs: iface.HelloSecs,
				DeadSecs:  iface.DeadSecs,
			}
		}
	}
	return ospf.InstanceTree{
		RouterID:   c.RouterID,
		Version:    c.Version,
		Interfaces: interfaces,
	}
}

func ldpInstanceTree(c config.LDPInstanceConfig) ldp.InstanceTree {
	interfaces := make(map[string]bool, len(c.Interfaces))
	for _, name := range c.Interfaces {
		interfaces[name] = true
	}
	targeted := make(map[string]ldp.PeerConfig, len(c.TargetedPeers))
	for _, p := range c.TargetedPeers {
		targeted[p.Address] = ldp.PeerConfig{
			Address:     p.Address,
			Targeted:    true,
			HelloAccept: p.HelloAccept,
		}
	}
	return ldp.InstanceTree{
		LSRID:         c.LSRID,
		HelloAccept:   c.HelloAccept,
		Interfaces:    interfaces,
		TargetedPeers: targeted,
	}
}
