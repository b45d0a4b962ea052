package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/vacdash/internal/gauge"
	"github.com/shaunagostinho/vacdash/internal/ionpump"
	"github.com/shaunagostinho/vacdash/internal/logger"
	"github.com/shaunagostinho/vacdash/internal/store"
)

// Config holds all vacdash configuration.
type Config struct {
	mu sync.RWMutex

	// Instruments
	Gauge   GaugeConfig   `yaml:"gauge" json:"gauge"`
	IonPump IonPumpConfig `yaml:"ionpump" json:"ionpump"`

	// Polling
	Poll PollConfig `yaml:"poll" json:"poll"`

	// CSV reading log
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Redis publishing
	Redis store.Config `yaml:"redis" json:"redis"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GaugeConfig struct {
	Type            string `yaml:"type" json:"type"`          // "hornet", "demo" or "disabled"
	PortPath        string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0 (RS-485 adapter)
	BaudRate        int    `yaml:"baud_rate" json:"baudRate"`
	Address         string `yaml:"rs485_addr" json:"rs485Addr"`
	TimeoutMs       int    `yaml:"timeout_ms" json:"timeoutMs"`
	ExpectedVersion string `yaml:"expected_version" json:"expectedVersion"`
}

type IonPumpConfig struct {
	Type            string `yaml:"type" json:"type"` // "nextorr", "demo" or "disabled"
	PortPath        string `yaml:"port_path" json:"portPath"`
	BaudRate        int    `yaml:"baud_rate" json:"baudRate"`
	TimeoutMs       int    `yaml:"timeout_ms" json:"timeoutMs"`
	ENQDelayMs      int    `yaml:"enq_delay_ms" json:"enqDelayMs"`     // settle time before <ENQ>
	QueryDelayMs    int    `yaml:"query_delay_ms" json:"queryDelayMs"` // spacing between queries
	ExpectedVersion string `yaml:"expected_version" json:"expectedVersion"`
}

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms" json:"intervalMs"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with the lab's working defaults.
func DefaultConfig() *Config {
	return &Config{
		Gauge: GaugeConfig{
			Type:            "demo",
			PortPath:        "/dev/ttyUSB0",
			BaudRate:        gauge.DefaultBaudRate,
			Address:         gauge.DefaultAddress,
			TimeoutMs:       int(gauge.DefaultTimeout / time.Millisecond),
			ExpectedVersion: gauge.DefaultExpectedVersion,
		},
		IonPump: IonPumpConfig{
			Type:            "demo",
			PortPath:        "/dev/ttyUSB1",
			BaudRate:        ionpump.DefaultBaudRate,
			TimeoutMs:       int(ionpump.DefaultTimeout / time.Millisecond),
			ENQDelayMs:      int(ionpump.DefaultENQDelay / time.Millisecond),
			QueryDelayMs:    int(ionpump.DefaultQueryDelay / time.Millisecond),
			ExpectedVersion: ionpump.DefaultExpectedVersion,
		},
		Poll: PollConfig{
			IntervalMs: 10000,
		},
		Logging: logger.Config{
			Enabled:    false,
			Path:       "/var/log/vacdash",
			IntervalMs: 10000,
		},
		Redis: store.Config{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "vacdash:readings",
			History: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// GaugeDriverConfig converts the YAML section into driver configuration.
func (c *Config) GaugeDriverConfig() gauge.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gauge.Config{
		PortPath:        c.Gauge.PortPath,
		BaudRate:        c.Gauge.BaudRate,
		Address:         c.Gauge.Address,
		Timeout:         time.Duration(c.Gauge.TimeoutMs) * time.Millisecond,
		ExpectedVersion: c.Gauge.ExpectedVersion,
	}
}

// IonPumpDriverConfig converts the YAML section into driver configuration.
func (c *Config) IonPumpDriverConfig() ionpump.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ionpump.Config{
		PortPath:        c.IonPump.PortPath,
		BaudRate:        c.IonPump.BaudRate,
		Timeout:         time.Duration(c.IonPump.TimeoutMs) * time.Millisecond,
		ENQDelay:        time.Duration(c.IonPump.ENQDelayMs) * time.Millisecond,
		QueryDelay:      time.Duration(c.IonPump.QueryDelayMs) * time.Millisecond,
		ExpectedVersion: c.IonPump.ExpectedVersion,
	}
}

// PollInterval returns the time between poll cycles.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Poll.IntervalMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GAUGE_TYPE, GAUGE_PORT, GAUGE_ADDR, PUMP_TYPE, PUMP_PORT,
// PUMP_ENQ_DELAY_MS, POLL_INTERVAL_MS, LISTEN_ADDR, LOG_ENABLED, LOG_PATH,
// LOG_INTERVAL_MS, REDIS_ENABLED, REDIS_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GAUGE_TYPE"); v != "" {
		c.Gauge.Type = v
	}
	if v := os.Getenv("GAUGE_PORT"); v != "" {
		c.Gauge.PortPath = v
	}
	if v := os.Getenv("GAUGE_ADDR"); v != "" {
		c.Gauge.Address = v
	}
	if v := os.Getenv("PUMP_TYPE"); v != "" {
		c.IonPump.Type = v
	}
	if v := os.Getenv("PUMP_PORT"); v != "" {
		c.IonPump.PortPath = v
	}
	if v := os.Getenv("PUMP_ENQ_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IonPump.ENQDelayMs = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Poll.IntervalMs = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = truthy(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.IntervalMs = n
		}
	}
	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = truthy(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/vacdash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
//
// Device sections take effect on the next restart; the poll interval is
// read at the start of each cycle.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
