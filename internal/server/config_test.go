package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	def := DefaultConfig()
	assert.Equal(t, def.Gauge, cfg.Gauge)
	assert.Equal(t, def.IonPump, cfg.IonPump)
	assert.Equal(t, 19200, cfg.Gauge.BaudRate)
	assert.Equal(t, 115200, cfg.IonPump.BaudRate)
	assert.Equal(t, 10, cfg.IonPump.ENQDelayMs)
	assert.Equal(t, 100, cfg.IonPump.QueryDelayMs)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
gauge:
  type: hornet
  port_path: /dev/ttyHornet
  rs485_addr: "03"
ionpump:
  type: nextorr
  enq_delay_ms: 25
poll:
  interval_ms: 2500
redis:
  enabled: true
  password: hunter2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg := LoadConfig(path)
	assert.Equal(t, "hornet", cfg.Gauge.Type)
	assert.Equal(t, "/dev/ttyHornet", cfg.Gauge.PortPath)
	assert.Equal(t, "03", cfg.Gauge.Address)
	assert.Equal(t, 19200, cfg.Gauge.BaudRate, "unset keys keep defaults")
	assert.Equal(t, "nextorr", cfg.IonPump.Type)
	assert.Equal(t, 2500*time.Millisecond, cfg.PollInterval())
	assert.True(t, cfg.Redis.Enabled)

	pc := cfg.IonPumpDriverConfig()
	assert.Equal(t, 25*time.Millisecond, pc.ENQDelay)
	assert.Equal(t, 100*time.Millisecond, pc.QueryDelay)
	assert.Equal(t, 500*time.Millisecond, pc.Timeout)

	gc := cfg.GaugeDriverConfig()
	assert.Equal(t, "03", gc.Address)
	assert.Equal(t, time.Second, gc.Timeout)

	data, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestLoadConfigBadYAMLFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gauge: [not, a, map"), 0644))
	cfg := LoadConfig(path)
	assert.Equal(t, "demo", cfg.Gauge.Type)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GAUGE_TYPE", "hornet")
	t.Setenv("GAUGE_ADDR", "07")
	t.Setenv("PUMP_ENQ_DELAY_MS", "40")
	t.Setenv("POLL_INTERVAL_MS", "bogus")
	t.Setenv("LOG_ENABLED", "yes")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	assert.Equal(t, "hornet", cfg.Gauge.Type)
	assert.Equal(t, "07", cfg.Gauge.Address)
	assert.Equal(t, 40, cfg.IonPump.ENQDelayMs)
	assert.Equal(t, 10000, cfg.Poll.IntervalMs, "unparsable values are ignored")
	assert.True(t, cfg.Logging.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestEnvFile(t *testing.T) {
	t.Setenv("PUMP_PORT", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("# lab bench\nPUMP_PORT=\"/dev/ttyNEXTorr\"\nnot a pair\n"), 0644))

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))
	assert.Equal(t, "/dev/ttyNEXTorr", cfg.IonPump.PortPath)
}

func TestUpdateFromJSONDeepMerge(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"poll":{"intervalMs":500},"ionpump":{"enqDelayMs":50}}`)))

	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 50, cfg.IonPump.ENQDelayMs)
	assert.Equal(t, "/dev/ttyUSB1", cfg.IonPump.PortPath, "untouched fields survive")
	assert.Equal(t, 115200, cfg.IonPump.BaudRate)

	assert.Error(t, cfg.UpdateFromJSON([]byte(`{not json`)))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := LoadConfig(path)
	cfg.Gauge.Address = "0A"
	require.NoError(t, cfg.Save())

	again := LoadConfig(path)
	assert.Equal(t, "0A", again.Gauge.Address)
}

func TestPollIntervalDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poll.IntervalMs = 0
	assert.Equal(t, 10*time.Second, cfg.PollInterval())
}
