// Package config loads and saves the driver's TOML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/btprint/internal/renderer"
	"github.com/thereceipt/btprint/internal/syncutil"
	"github.com/thereceipt/btprint/pkg/receiptformat"
)

const (
	SchemaVersion = 1
	CfgEnv        = "BTPRINT_CFG"
	CfgFile       = "config.toml"

	PayloadCommands = "commands"
	PayloadText     = "text"
)

type Values struct {
	Store        Store     `toml:"store"`
	Paths        Paths     `toml:"paths,omitempty"`
	API          API       `toml:"api"`
	Receipt      Receipt   `toml:"receipt"`
	Bluetooth    Bluetooth `toml:"bluetooth"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

type Store struct {
	Name     string `toml:"name"`
	Location string `toml:"location,omitempty"`
	Phone    string `toml:"phone,omitempty"`
}

type Receipt struct {
	Codepage          string          `toml:"codepage,omitempty"`
	Locale            string          `toml:"locale,omitempty"`
	Labels            renderer.Labels `toml:"labels,omitempty"`
	Width             int             `toml:"width"`
	TransactionDigits int             `toml:"transaction_digits"`
	FeedLines         int             `toml:"feed_lines"`
}

type Bluetooth struct {
	ClassicPayload    string   `toml:"classic_payload"`
	PrinterServices   []string `toml:"printer_services,omitempty,multiline"`
	ScanDurationMs    int      `toml:"scan_duration_ms"`
	WriteDelayMs      int      `toml:"write_delay_ms"`
	ChunkDelayMs      int      `toml:"chunk_delay_ms"`
	DefaultMTU        int      `toml:"default_mtu"`
	WriteTimeoutMs    int      `toml:"write_timeout_ms"`
	ConnectTimeoutMs  int      `toml:"connect_timeout_ms"`
	MonitorIntervalMs int      `toml:"monitor_interval_ms"`
	RFCOMMChannel     int      `toml:"rfcomm_channel"`
	BaudRate          int      `toml:"baud_rate"`
}

type API struct {
	Listen    string `toml:"listen"`
	Advertise bool   `toml:"advertise"`
}

type Paths struct {
	Registry string `toml:"registry,omitempty"`
	Jobs     string `toml:"jobs,omitempty"`
	LogDir   string `toml:"log_dir,omitempty"`
}

// BaseDefaults are written to disk the first time the service starts
var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Store: Store{
		Name: "Toko Saya",
	},
	Receipt: Receipt{
		Width:             32,
		TransactionDigits: 8,
		FeedLines:         4,
		Codepage:          "utf-8",
		Locale:            "id",
	},
	Bluetooth: Bluetooth{
		ClassicPayload: PayloadCommands,
		PrinterServices: []string{
			"000018f0-0000-1000-8000-00805f9b34fb",
			"e7810a71-73ae-499d-8c15-faa9aef0c3f2",
			"49535343-fe7d-4ae5-8fa9-9fafd205e455",
		},
		ScanDurationMs:    20000,
		WriteDelayMs:      50,
		ChunkDelayMs:      20,
		DefaultMTU:        20,
		WriteTimeoutMs:    20000,
		ConnectTimeoutMs:  10000,
		MonitorIntervalMs: 5000,
		RFCOMMChannel:     1,
		BaudRate:          9600,
	},
	API: API{
		Listen:    "127.0.0.1:12212",
		Advertise: false,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// Load reads the config at path, or $BTPRINT_CFG, or configDir/config.toml.
// A missing file is created from defaults.
//
//nolint:gocritic // defaults copied on purpose
func Load(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}
	log.Debug().Str("path", cfgPath).Msg("loading config")

	cfg := &Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Reload(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload re-reads the config file from disk
func (c *Instance) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal on top of defaults so missing keys keep their default value
	newVals := c.defaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		return fmt.Errorf("schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema, SchemaVersion)
	}

	c.vals = newVals
	return nil
}

// Save writes the current values to disk
func (c *Instance) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path returns the config file location
func (c *Instance) Path() string {
	return c.cfgPath
}

// Dir returns the directory holding the config file
func (c *Instance) Dir() string {
	return filepath.Dir(c.cfgPath)
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

// Store returns the default store header for receipts
func (c *Instance) Store() receiptformat.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return receiptformat.Store{
		Name:     c.vals.Store.Name,
		Location: c.vals.Store.Location,
		Phone:    c.vals.Store.Phone,
	}
}

// RendererOptions maps the [receipt] section onto encoder options
func (c *Instance) RendererOptions() renderer.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.vals.Receipt
	return renderer.Options{
		Width:             r.Width,
		TransactionDigits: r.TransactionDigits,
		FeedLines:         r.FeedLines,
		Codepage:          r.Codepage,
		Locale:            r.Locale,
		Labels:            r.Labels,
	}
}

func (c *Instance) Bluetooth() Bluetooth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.vals.Bluetooth
	b.PrinterServices = append([]string(nil), b.PrinterServices...)
	return b
}

func (c *Instance) ScanDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.ScanDurationMs, c.defaults.Bluetooth.ScanDurationMs)
}

func (c *Instance) SetScanDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Bluetooth.ScanDurationMs = int(d / time.Millisecond)
}

func (c *Instance) WriteTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.WriteTimeoutMs, c.defaults.Bluetooth.WriteTimeoutMs)
}

func (c *Instance) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.ConnectTimeoutMs, c.defaults.Bluetooth.ConnectTimeoutMs)
}

// WriteDelay is the gap between classic command buffers
func (c *Instance) WriteDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.WriteDelayMs, c.defaults.Bluetooth.WriteDelayMs)
}

// ChunkDelay is the gap between BLE chunks
func (c *Instance) ChunkDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.ChunkDelayMs, c.defaults.Bluetooth.ChunkDelayMs)
}

func (c *Instance) MonitorInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ms(c.vals.Bluetooth.MonitorIntervalMs, c.defaults.Bluetooth.MonitorIntervalMs)
}

func (c *Instance) API() API {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API
}

// RegistryPath defaults to printers.json next to the config file
func (c *Instance) RegistryPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Paths.Registry != "" {
		return c.vals.Paths.Registry
	}
	return filepath.Join(filepath.Dir(c.cfgPath), "printers.json")
}

// JobsPath defaults to jobs.db next to the config file
func (c *Instance) JobsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Paths.Jobs != "" {
		return c.vals.Paths.Jobs
	}
	return filepath.Join(filepath.Dir(c.cfgPath), "jobs.db")
}

// LogDir defaults to the config directory
func (c *Instance) LogDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Paths.LogDir != "" {
		return c.vals.Paths.LogDir
	}
	return filepath.Dir(c.cfgPath)
}

func ms(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}
