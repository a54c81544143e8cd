package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/streamctl/internal/pipeline"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/danmuck/streamctl/internal/relay"
)

const (
	envConfigPath = "STREAMCTL_CONFIG"
	defaultPort   = 8080
)

type runConfig struct {
	Host         string
	Port         int
	Session      session.Config
	ReportEvery  int
	Decode       bool
	SnapshotPath string
	MetricsAddr  string
	NATSURL      string
	NATSSubject  string
}

func defaultRunConfig() runConfig {
	cfg := runConfig{
		Host:         "localhost",
		Port:         defaultPort,
		Session:      session.DefaultConfig(),
		ReportEvery:  pipeline.DefaultReportEvery,
		Decode:       true,
		SnapshotPath: "test_screenshot.h264",
		NATSSubject:  relay.DefaultSubject,
	}
	// The server can stay silent between packets while the device screen is idle.
	cfg.Session.ReadTimeout = 0
	return cfg
}

type fileConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ReadTimeout        string `toml:"read_timeout"`
	MaxPayloadBytes    int64  `toml:"max_payload_bytes"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	ReportEvery        int    `toml:"report_every"`
	Decode             bool   `toml:"decode"`
	SnapshotPath       string `toml:"snapshot_path"`
	MetricsAddr        string `toml:"metrics_addr"`
	NATSURL            string `toml:"nats_url"`
	NATSSubject        string `toml:"nats_subject"`
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load streamctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load streamctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		if host := strings.TrimSpace(raw.Host); host != "" {
			cfg.Host = host
		}
	}
	if meta.IsDefined("port") {
		if err := validatePort(raw.Port); err != nil {
			return runConfig{}, err
		}
		cfg.Port = raw.Port
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Session.ConnectTimeout = d
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return runConfig{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.Session.ReadTimeout = d
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes < 0 || raw.MaxPayloadBytes > int64(^uint32(0)) {
			return runConfig{}, fmt.Errorf("max_payload_bytes out of range: %d", raw.MaxPayloadBytes)
		}
		cfg.Session.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("report_every") {
		cfg.ReportEvery = raw.ReportEvery
	}
	if meta.IsDefined("decode") {
		cfg.Decode = raw.Decode
	}
	if meta.IsDefined("snapshot_path") {
		cfg.SnapshotPath = strings.TrimSpace(raw.SnapshotPath)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("nats_subject") {
		cfg.NATSSubject = strings.TrimSpace(raw.NATSSubject)
	}

	if err := cfg.Session.Validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}
