package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		IBus: IBusConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "routingd",
		},
		BGP: []BGPInstanceConfig{
			{
				Name:     "default",
				LocalAS:  65001,
				RouterID: "10.0.0.1",
				Neighbors: []BGPNeighborConfig{
					{Address: "10.0.0.2", PeerAS: 65002},
				},
			},
		},
		OSPF: []OSPFInstanceConfig{
			{
				Name:     "default",
				RouterID: "10.0.0.1",
				Version:  2,
				Areas: []OSPFAreaConfig{
					{
						AreaID: "0.0.0.0",
						Interfaces: []OSPFInterfaceConfig{
							{Name: "eth0", HelloSecs: 10, DeadSecs: 40},
						},
					},
				},
			},
		},
		LDP: []LDPInstanceConfig{
			{Name: "default", LSRID: "10.0.0.1"},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoBrokersIsValid(t *testing.T) {
	cfg := validConfig()
	cfg.IBus.Brokers = nil
	cfg.IBus.GroupID = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected ibus to be optional, got error: %v", err)
	}
}

func TestValidate_NoGroupIDWithBrokersIsError(t *testing.T) {
	cfg := validConfig()
	cfg.IBus.GroupID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty ibus group_id when brokers are configured")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_SouthboundRequiresPositiveRetention(t *testing.T) {
	cfg := validConfig()
	cfg.Southbound.DSN = "postgres://localhost/test"
	cfg.Southbound.MaxConns = 5
	cfg.Southbound.RetentionDays = 0
	cfg.Southbound.Timezone = "UTC"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for retention_days = 0 when southbound configured")
	}
}

func TestValidate_SouthboundInvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Southbound.DSN = "postgres://localhost/test"
	cfg.Southbound.MaxConns = 5
	cfg.Southbound.RetentionDays = 30
	cfg.Southbound.Timezone = "Not/A/Real/Zone"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid southbound timezone")
	}
}

func TestValidate_SouthboundDisabledSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Southbound.DSN = ""
	cfg.Southbound.RetentionDays = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config with southbound disabled, got: %v", err)
	}
}

func TestValidate_BGPInstanceMissingName(t *testing.T) {
	cfg := validConfig()
	cfg.BGP[0].Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bgp instance missing name")
	}
}

func TestValidate_BGPDuplicateInstanceName(t *testing.T) {
	cfg := validConfig()
	cfg.BGP = append(cfg.BGP, cfg.BGP[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate bgp instance name")
	}
}

func TestValidate_BGPMissingLocalAS(t *testing.T) {
	cfg := validConfig()
	cfg.BGP[0].LocalAS = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing local_as")
	}
}

func TestValidate_BGPDuplicateNeighbor(t *testing.T) {
	cfg := validConfig()
	cfg.BGP[0].Neighbors = append(cfg.BGP[0].Neighbors, cfg.BGP[0].Neighbors[0])
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate neighbor address")
	}
}

func TestValidate_BGPNeighborMissingPeerAS(t *testing.T) {
	cfg := validConfig()
	cfg.BGP[0].Neighbors[0].PeerAS = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing peer_as")
	}
}

func TestValidate_BGPNeighborEBGPMultihopOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.BGP[0].Neighbors[0].EBGPMultihop = 300
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range ebgp_multihop")
	}
}

func TestValidate_OSPFInvalidVersion(t *testing.T) {
	cfg := validConfig()
	cfg.OSPF[0].Version = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid ospf version")
	}
}

func TestValidate_OSPFDeadMustExceedHello(t *testing.T) {
	cfg := validConfig()
	cfg.OSPF[0].Areas[0].Interfaces[0].DeadSecs = 5
	cfg.OSPF[0].Areas[0].Interfaces[0].HelloSecs = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when dead_interval <= hello_interval")
	}
}

func TestValidate_LDPMissingLSRID(t *testing.T) {
	cfg := validConfig()
	cfg.LDP[0].LSRID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing lsr_id")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
ibus:
  brokers:
    - "localhost:9092"
  group_id: "routingd"
bgp:
  - name: default
    local_as: 65001
    router_id: "10.0.0.1"
    neighbors:
      - address: "10.0.0.2"
        peer_as: 65002
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ROUTINGD_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvOverrideGroupIDFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ROUTINGD_IBUS__GROUP_ID", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty ibus group_id via env")
	}
}

func TestLoad_ValidMinimalFile(t *testing.T) {
	p := writeMinimalYAML(t)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.BGP) != 1 || cfg.BGP[0].Name != "default" {
		t.Fatalf("expected one bgp instance named default, got %+v", cfg.BGP)
	}
}
