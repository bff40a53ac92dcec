/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables,
// optionally pre-loaded from a YAML file named by DUOCAST_CONFIG.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	CacheURL    string // Optional redis URL for the active-stream mirror
	NATSURL     string // Optional NATS URL for lifecycle event fan-out

	AllowedOrigins []string // Origins accepted on the signaling websocket and REST API

	// Media worker configuration
	WorkerBin        string
	WorkerCount      int // 0 selects the environment default (NumCPU in production, 1 otherwise)
	WorkerLogLevel   string
	MediaListenIP    string
	MediaAnnouncedIP string // Public IP advertised in ICE candidates; required in production behind NAT
	RTPMinPort       int
	RTPMaxPort       int
	ForceTCP         bool // Disable UDP candidates for restrictive networks

	// HLS configuration
	HLSPath       string
	TranscoderBin string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// fileConfig mirrors the env surface for the optional YAML config file.
// Env values always win over file values.
type fileConfig struct {
	Environment      string `yaml:"environment"`
	HTTPBind         string `yaml:"http_bind"`
	HTTPPort         int    `yaml:"http_port"`
	DBBackend        string `yaml:"db_backend"`
	DBDSN            string `yaml:"db_dsn"`
	CacheURL         string `yaml:"cache_url"`
	NATSURL          string `yaml:"nats_url"`
	AllowedOrigins   string `yaml:"allowed_origins"`
	WorkerBin        string `yaml:"worker_bin"`
	WorkerCount      int    `yaml:"worker_count"`
	WorkerLogLevel   string `yaml:"worker_log_level"`
	MediaListenIP    string `yaml:"media_listen_ip"`
	MediaAnnouncedIP string `yaml:"media_announced_ip"`
	RTPMinPort       int    `yaml:"rtp_min_port"`
	RTPMaxPort       int    `yaml:"rtp_max_port"`
	HLSPath          string `yaml:"hls_path"`
	TranscoderBin    string `yaml:"transcoder_bin"`
}

// Load reads the optional config file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	fc, err := loadFile(getEnv("DUOCAST_CONFIG", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"DUOCAST_ENV", "NODE_ENV"}, strOr(fc.Environment, "development")),
		HTTPBind:    getEnvAny([]string{"DUOCAST_HTTP_BIND"}, strOr(fc.HTTPBind, "0.0.0.0")),
		HTTPPort:    getEnvIntAny([]string{"DUOCAST_HTTP_PORT", "PORT"}, intOr(fc.HTTPPort, 3001)),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"DUOCAST_DB_BACKEND"}, strOr(fc.DBBackend, string(DatabaseSQLite)))),
		DBDSN:       getEnvAny([]string{"DUOCAST_DB_DSN"}, strOr(fc.DBDSN, "duocast.db")),
		CacheURL:    getEnvAny([]string{"DUOCAST_CACHE_URL", "REDIS_URL"}, strOr(fc.CacheURL, "")),
		NATSURL:     getEnvAny([]string{"DUOCAST_NATS_URL", "NATS_URL"}, strOr(fc.NATSURL, "")),

		AllowedOrigins: splitCSV(getEnvAny([]string{"DUOCAST_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"}, strOr(fc.AllowedOrigins, "*"))),

		WorkerBin:        getEnvAny([]string{"DUOCAST_WORKER_BIN"}, strOr(fc.WorkerBin, "media-router-worker")),
		WorkerCount:      getEnvIntAny([]string{"DUOCAST_WORKER_COUNT"}, fc.WorkerCount),
		WorkerLogLevel:   getEnvAny([]string{"DUOCAST_WORKER_LOG_LEVEL"}, strOr(fc.WorkerLogLevel, "warn")),
		MediaListenIP:    getEnvAny([]string{"DUOCAST_MEDIA_LISTEN_IP", "MEDIA_LISTEN_IP"}, strOr(fc.MediaListenIP, "0.0.0.0")),
		MediaAnnouncedIP: getEnvAny([]string{"DUOCAST_MEDIA_ANNOUNCED_IP", "MEDIA_ANNOUNCED_IP", "ANNOUNCED_IP"}, strOr(fc.MediaAnnouncedIP, "")),
		RTPMinPort:       getEnvIntAny([]string{"DUOCAST_RTP_MIN_PORT", "RTP_MIN_PORT"}, intOr(fc.RTPMinPort, 40000)),
		RTPMaxPort:       getEnvIntAny([]string{"DUOCAST_RTP_MAX_PORT", "RTP_MAX_PORT"}, intOr(fc.RTPMaxPort, 49999)),
		ForceTCP:         getEnvBoolAny([]string{"DUOCAST_FORCE_TCP", "FORCE_TCP"}, false),

		HLSPath:       getEnvAny([]string{"DUOCAST_HLS_PATH", "HLS_PATH"}, strOr(fc.HLSPath, "./hls")),
		TranscoderBin: getEnvAny([]string{"DUOCAST_TRANSCODER_BIN", "FFMPEG_PATH"}, strOr(fc.TranscoderBin, "ffmpeg")),

		TracingEnabled:    getEnvBoolAny([]string{"DUOCAST_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"DUOCAST_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"DUOCAST_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.Environment != "development" && cfg.Environment != "production" && cfg.Environment != "test" {
		return nil, fmt.Errorf("unsupported environment %q (want development, production, or test)", cfg.Environment)
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.WorkerCount == 0 {
		if cfg.Environment == "production" {
			cfg.WorkerCount = runtime.NumCPU()
		} else {
			cfg.WorkerCount = 1
		}
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("DUOCAST_WORKER_COUNT must be positive, got %d", cfg.WorkerCount)
	}

	if cfg.RTPMinPort <= 0 || cfg.RTPMaxPort > 65535 || cfg.RTPMinPort >= cfg.RTPMaxPort {
		return nil, fmt.Errorf("invalid RTP port range [%d, %d]", cfg.RTPMinPort, cfg.RTPMaxPort)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if os.Getenv("DUOCAST_DB_DSN") == "" && fc.DBDSN == "" {
			return nil, fmt.Errorf("DUOCAST_DB_DSN must be provided in production")
		}
		if cfg.MediaListenIP == "0.0.0.0" && cfg.MediaAnnouncedIP == "" {
			return nil, fmt.Errorf("DUOCAST_MEDIA_ANNOUNCED_IP is required in production when listening on 0.0.0.0")
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"NODE_ENV":     "use DUOCAST_ENV",
		"PORT":         "use DUOCAST_HTTP_PORT",
		"REDIS_URL":    "use DUOCAST_CACHE_URL",
		"ANNOUNCED_IP": "use DUOCAST_MEDIA_ANNOUNCED_IP",
		"FFMPEG_PATH":  "use DUOCAST_TRANSCODER_BIN",
		"HLS_PATH":     "use DUOCAST_HLS_PATH",
		"FORCE_TCP":    "use DUOCAST_FORCE_TCP",
		"RTP_MIN_PORT": "use DUOCAST_RTP_MIN_PORT",
		"RTP_MAX_PORT": "use DUOCAST_RTP_MAX_PORT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func strOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func intOr(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
