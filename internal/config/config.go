// Package config loads the daemon's static startup configuration as a
// koanf file+env overlay over defaults. Per-instance/peer/area
// northbound config changes after startup go through internal/nbtxn,
// not this package; this is only what the process needs to come up.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service    ServiceConfig           `koanf:"service"`
	IBus       IBusConfig              `koanf:"ibus"`
	Southbound SouthboundConfig        `koanf:"southbound"`
	BGP        []BGPInstanceConfig     `koanf:"bgp"`
	OSPF       []OSPFInstanceConfig    `koanf:"ospf"`
	LDP        []LDPInstanceConfig     `koanf:"ldp"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// IBusConfig describes the cross-process event-bus transport: a
// Kafka-compatible broker set carrying interface/address/
// redistribute/route events between this daemon and its siblings.
type IBusConfig struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	GroupID  string   `koanf:"group_id"`
}

// SouthboundConfig configures the optional, non-authoritative FIB audit
// log. Empty DSN disables it and the daemon falls back to a NoopFIBWriter.
type SouthboundConfig struct {
	DSN           string `koanf:"dsn"`
	MaxConns      int32  `koanf:"max_conns"`
	MinConns      int32  `koanf:"min_conns"`
	RetentionDays int    `koanf:"retention_days"`
	Timezone      string `koanf:"timezone"`
}

type BGPInstanceConfig struct {
	Name        string              `koanf:"name"`
	LocalAS     uint32              `koanf:"local_as"`
	RouterID    string              `koanf:"router_id"`
	FourOctetAS bool                `koanf:"four_octet_as"`
	Neighbors   []BGPNeighborConfig `koanf:"neighbors"`
	Decision    BGPDecisionConfig   `koanf:"decision"`
}

// BGPDecisionConfig is the optional decision-process tuning, named
// after the equivalent FRR/BIRD bgpd knobs.
type BGPDecisionConfig struct {
	IgnoreASPathLength     bool `koanf:"ignore_as_path_length"`
	EnableMED              bool `koanf:"enable_med"`
	AlwaysCompareMED       bool `koanf:"always_compare_med"`
	IgnoreNextHopIGPMetric bool `koanf:"ignore_next_hop_igp_metric"`
	EBGPMaxPaths           int  `koanf:"ebgp_max_paths"`
	IBGPMaxPaths           int  `koanf:"ibgp_max_paths"`
	EBGPAllowMultipleAS    bool `koanf:"ebgp_allow_multiple_as"`
}

type BGPNeighborConfig struct {
	Address        string `koanf:"address"`
	PeerAS         uint32 `koanf:"peer_as"`
	LocalAS        uint32 `koanf:"local_as"`
	EBGPMultihop   int    `koanf:"ebgp_multihop"`
	TTLSecurity    bool   `koanf:"ttl_security"`
	MD5Key         string `koanf:"md5_key"`
	HoldTimeSecs   int    `koanf:"hold_time_seconds"`
	PassiveMode    bool   `koanf:"passive"`
}

type OSPFInstanceConfig struct {
	Name     string             `koanf:"name"`
	RouterID string             `koanf:"router_id"`
	Version  int                `koanf:"version"` // 2 or 3
	Areas    []OSPFAreaConfig   `koanf:"areas"`
}

type OSPFAreaConfig struct {
	AreaID     string               `koanf:"area_id"`
	Stub       bool                 `koanf:"stub"`
	Interfaces []OSPFInterfaceConfig `koanf:"interfaces"`
}

type OSPFInterfaceConfig struct {
	Name         string `koanf:"name"`
	HelloSecs    int    `koanf:"hello_interval_seconds"`
	DeadSecs     int    `koanf:"dead_interval_seconds"`
	Priority     int    `koanf:"priority"`
	Cost         int    `koanf:"cost"`
}

type LDPInstanceConfig struct {
	Name           string               `koanf:"name"`
	RouterID       string               `koanf:"router_id"`
	LSRID          string               `koanf:"lsr_id"`
	HelloAccept    bool                 `koanf:"hello_accept"` // global targeted-hello gate
	Interfaces     []string             `koanf:"interfaces"`
	TargetedPeers  []LDPTargetedPeerConfig `koanf:"targeted_peers"`
}

type LDPTargetedPeerConfig struct {
	Address      string `koanf:"address"`
	HelloAccept  *bool  `koanf:"hello_accept"` // per-peer override of the instance gate
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: ROUTINGD_SERVICE__LOG_LEVEL -> service.log_level
	if err := k.Load(env.Provider("ROUTINGD_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ROUTINGD_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "routingd-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		IBus: IBusConfig{
			ClientID: "routingd",
			GroupID:  "routingd",
		},
		Southbound: SouthboundConfig{
			MaxConns:      10,
			MinConns:      1,
			RetentionDays: 30,
			Timezone:      "UTC",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.IBus.Brokers) == 1 && strings.Contains(cfg.IBus.Brokers[0], ",") {
		cfg.IBus.Brokers = strings.Split(cfg.IBus.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.IBus.Brokers) > 0 && c.IBus.GroupID == "" {
		return fmt.Errorf("config: ibus.group_id is required when ibus.brokers is set")
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Southbound.DSN != "" {
		if c.Southbound.MaxConns <= 0 {
			return fmt.Errorf("config: southbound.max_conns must be > 0 (got %d)", c.Southbound.MaxConns)
		}
		if c.Southbound.MinConns < 0 {
			return fmt.Errorf("config: southbound.min_conns must be >= 0 (got %d)", c.Southbound.MinConns)
		}
		if c.Southbound.RetentionDays <= 0 {
			return fmt.Errorf("config: southbound.retention_days must be > 0 (got %d)", c.Southbound.RetentionDays)
		}
		if _, err := time.LoadLocation(c.Southbound.Timezone); err != nil {
			return fmt.Errorf("config: southbound.timezone is invalid: %w", err)
		}
	}

	seenBGP := make(map[string]bool)
	for _, inst := range c.BGP {
		if inst.Name == "" {
			return fmt.Errorf("config: bgp instance missing name")
		}
		if seenBGP[inst.Name] {
			return fmt.Errorf("config: duplicate bgp instance name %q", inst.Name)
		}
		seenBGP[inst.Name] = true
		if inst.LocalAS == 0 {
			return fmt.Errorf("config: bgp instance %q: local_as is required", inst.Name)
		}
		if inst.RouterID == "" {
			return fmt.Errorf("config: bgp instance %q: router_id is required", inst.Name)
		}
		seenNeighbor := make(map[string]bool)
		for _, n := range inst.Neighbors {
			if n.Address == "" {
				return fmt.Errorf("config: bgp instance %q: neighbor missing address", inst.Name)
			}
			if seenNeighbor[n.Address] {
				return fmt.Errorf("config: bgp instance %q: duplicate neighbor %q", inst.Name, n.Address)
			}
			seenNeighbor[n.Address] = true
			if n.PeerAS == 0 {
				return fmt.Errorf("config: bgp instance %q neighbor %q: peer_as is required", inst.Name, n.Address)
			}
			if n.EBGPMultihop < 0 || n.EBGPMultihop > 255 {
				return fmt.Errorf("config: bgp instance %q neighbor %q: ebgp_multihop out of range", inst.Name, n.Address)
			}
		}
	}

	seenOSPF := make(map[string]bool)
	for _, inst := range c.OSPF {
		if inst.Name == "" {
			return fmt.Errorf("config: ospf instance missing name")
		}
		if seenOSPF[inst.Name] {
			return fmt.Errorf("config: duplicate ospf instance name %q", inst.Name)
		}
		seenOSPF[inst.Name] = true
		if inst.Version != 2 && inst.Version != 3 {
			return fmt.Errorf("config: ospf instance %q: version must be 2 or 3 (got %d)", inst.Name, inst.Version)
		}
		if inst.RouterID == "" {
			return fmt.Errorf("config: ospf instance %q: router_id is required", inst.Name)
		}
		for _, area := range inst.Areas {
			if area.AreaID == "" {
				return fmt.Errorf("config: ospf instance %q: area missing area_id", inst.Name)
			}
			for _, iface := range area.Interfaces {
				if iface.Name == "" {
					return fmt.Errorf("config: ospf instance %q area %q: interface missing name", inst.Name, area.AreaID)
				}
				if iface.HelloSecs <= 0 {
					return fmt.Errorf("config: ospf instance %q area %q interface %q: hello_interval_seconds must be > 0", inst.Name, area.AreaID, iface.Name)
				}
				if iface.DeadSecs <= iface.HelloSecs {
					return fmt.Errorf("config: ospf instance %q area %q interface %q: dead_interval_seconds must exceed hello_interval_seconds", inst.Name, area.AreaID, iface.Name)
				}
			}
		}
	}

	seenLDP := make(map[string]bool)
	for _, inst := range c.LDP {
		if inst.Name == "" {
			return fmt.Errorf("config: ldp instance missing name")
		}
		if seenLDP[inst.Name] {
			return fmt.Errorf("config: duplicate ldp instance name %q", inst.Name)
		}
		seenLDP[inst.Name] = true
		if inst.LSRID == "" {
			return fmt.Errorf("config: ldp instance %q: lsr_id is required", inst.Name)
		}
	}

	return nil
}
