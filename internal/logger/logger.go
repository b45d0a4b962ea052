package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/vacdash/internal/gauge"
	"github.com/shaunagostinho/vacdash/internal/ionpump"
)

// Logger records timestamped gauge + ion pump readings to CSV files with
// automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	now      func() time.Time

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile  = 100_000 // ~11 days at one row per 10 s
	defaultPath     = "/var/log/vacdash"
	defaultInterval = 10 * time.Second
	minInterval     = 100 * time.Millisecond
)

// The first column is unix seconds so the files load straight into the
// existing plotting scripts (genfromtxt, delimiter ',').
var csvHeader = []string{
	"unix_s", "timestamp",
	"pressure_torr", "gauge_valid", "ignition_on",
	"pump_voltage_kv", "pump_current_na",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval == 0 {
		interval = defaultInterval
	} else if interval < minInterval {
		interval = minInterval
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes a gauge + pump snapshot if the minimum interval has
// elapsed. Either reading may be nil when that device is absent or its
// poll failed; its columns are left empty.
func (l *Logger) Record(g *gauge.Reading, p *ionpump.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || (g == nil && p == nil) {
		return
	}

	now := l.now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, g, p)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("vacuum_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, g *gauge.Reading, p *ionpump.Reading) []string {
	row := make([]string, len(csvHeader))

	row[0] = strconv.FormatFloat(float64(ts.UnixMicro())/1e6, 'f', 6, 64)
	row[1] = ts.Format(time.RFC3339Nano)

	if g != nil {
		row[2] = strconv.FormatFloat(g.Pressure, 'E', 3, 64)
		row[3] = boolStr(g.Valid)
		row[4] = boolStr(g.IgnitionOn)
	}
	if p != nil {
		row[5] = strconv.FormatFloat(p.Voltage, 'f', 3, 64)
		row[6] = strconv.FormatFloat(p.Current, 'f', 1, 64)
	}
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
