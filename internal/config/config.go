package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/passive.radar/internal/adsb"
	"github.com/banshee-data/passive.radar/internal/association"
	"github.com/banshee-data/passive.radar/internal/geometry"
	"github.com/banshee-data/passive.radar/internal/ingest"
	"github.com/banshee-data/passive.radar/internal/stash"
)

// DefaultConfigPath is where radar-api looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/radar.yml"

// Default channel ports.
const (
	DefaultAPIPort       = 3000
	DefaultMapPort       = 3001
	DefaultDetectionPort = 3002
	DefaultTrackPort     = 3003
	DefaultTimestampPort = 4000
	DefaultTimingPort    = 4001
	DefaultIQDataPort    = 4002

	DefaultFalseTargetsPort = 3004
)

// Config is the startup configuration. Every scalar is a pointer so an
// omitted field falls back to the default returned by its Get* method.
type Config struct {
	Location Location `json:"location" yaml:"location"`
	Capture  Capture  `json:"capture" yaml:"capture"`
	Network  Network  `json:"network" yaml:"network"`
	Truth    Truth    `json:"truth" yaml:"truth"`
	Stash    Stash    `json:"stash" yaml:"stash"`
	Ingest   Ingest   `json:"ingest" yaml:"ingest"`
}

// Location holds the receiver and transmitter sites.
type Location struct {
	Rx *geometry.LLA `json:"rx,omitempty" yaml:"rx,omitempty"`
	Tx *geometry.LLA `json:"tx,omitempty" yaml:"tx,omitempty"`
}

// Capture describes the illuminator.
type Capture struct {
	FC *float64 `json:"fc,omitempty" yaml:"fc,omitempty"` // carrier, Hz
}

// Network holds the bind address and per-channel TCP ports.
type Network struct {
	Bind  *string `json:"bind,omitempty" yaml:"bind,omitempty"`
	Ports Ports   `json:"ports" yaml:"ports"`
}

// Ports holds one TCP port per channel plus the HTTP read surface.
type Ports struct {
	API       *int `json:"api,omitempty" yaml:"api,omitempty"`
	Map       *int `json:"map,omitempty" yaml:"map,omitempty"`
	Detection *int `json:"detection,omitempty" yaml:"detection,omitempty"`
	Track     *int `json:"track,omitempty" yaml:"track,omitempty"`
	Timestamp *int `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Timing    *int `json:"timing,omitempty" yaml:"timing,omitempty"`
	IQData    *int `json:"iqdata,omitempty" yaml:"iqdata,omitempty"`

	FalseTargets *int `json:"falsetargets,omitempty" yaml:"falsetargets,omitempty"`
}

// Truth configures ground-truth sources.
type Truth struct {
	ADSB ADSB `json:"adsb" yaml:"adsb"`
}

// ADSB configures the tar1090 feed and association gates.
type ADSB struct {
	Enabled          *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Tar1090          *string  `json:"tar1090,omitempty" yaml:"tar1090,omitempty"`
	DelayTolerance   *float64 `json:"delay_tolerance,omitempty" yaml:"delay_tolerance,omitempty"`     // km
	DopplerTolerance *float64 `json:"doppler_tolerance,omitempty" yaml:"doppler_tolerance,omitempty"` // Hz
	CacheInterval    *string  `json:"cache_interval,omitempty" yaml:"cache_interval,omitempty"`       // duration string like "1s"
	Timeout          *string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`                     // duration string like "5s"
}

// Stash sizes the rolling windows.
type Stash struct {
	MapCPI             *int    `json:"map_cpi,omitempty" yaml:"map_cpi,omitempty"`
	DetectionCPI       *int    `json:"detection_cpi,omitempty" yaml:"detection_cpi,omitempty"`
	DetectionRetention *string `json:"detection_retention,omitempty" yaml:"detection_retention,omitempty"` // duration string like "300s"
	TimingCPI          *int    `json:"timing_cpi,omitempty" yaml:"timing_cpi,omitempty"`
	IQDataCPI          *int    `json:"iqdata_cpi,omitempty" yaml:"iqdata_cpi,omitempty"`
	PollInterval       *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"` // duration string like "100ms"
}

// Ingest tunes the socket framing.
type Ingest struct {
	MaxDocumentBytes *int    `json:"max_document_bytes,omitempty" yaml:"max_document_bytes,omitempty"`
	ResetOnConnect   *bool   `json:"reset_on_connect,omitempty" yaml:"reset_on_connect,omitempty"`
	Greeting         *string `json:"greeting,omitempty" yaml:"greeting,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yml or .yaml file. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yml", ".yaml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yml or .yaml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, p := range map[string]*int{
		"api":       c.Network.Ports.API,
		"map":       c.Network.Ports.Map,
		"detection": c.Network.Ports.Detection,
		"track":     c.Network.Ports.Track,
		"timestamp": c.Network.Ports.Timestamp,
		"timing":    c.Network.Ports.Timing,
		"iqdata":    c.Network.Ports.IQData,

		"falsetargets": c.Network.Ports.FalseTargets,
	} {
		if p != nil && (*p < 0 || *p > 65535) {
			return fmt.Errorf("network.ports.%s must be between 0 and 65535, got %d", name, *p)
		}
	}
	if err := c.validatePortsDistinct(); err != nil {
		return err
	}

	for name, site := range map[string]*geometry.LLA{"rx": c.Location.Rx, "tx": c.Location.Tx} {
		if site == nil {
			continue
		}
		if site.Latitude < -90 || site.Latitude > 90 {
			return fmt.Errorf("location.%s.latitude must be between -90 and 90, got %f", name, site.Latitude)
		}
		if site.Longitude < -180 || site.Longitude > 180 {
			return fmt.Errorf("location.%s.longitude must be between -180 and 180, got %f", name, site.Longitude)
		}
	}

	if c.Capture.FC != nil && *c.Capture.FC <= 0 {
		return fmt.Errorf("capture.fc must be positive, got %f", *c.Capture.FC)
	}

	if c.Truth.ADSB.DelayTolerance != nil && *c.Truth.ADSB.DelayTolerance <= 0 {
		return fmt.Errorf("truth.adsb.delay_tolerance must be positive, got %f", *c.Truth.ADSB.DelayTolerance)
	}
	if c.Truth.ADSB.DopplerTolerance != nil && *c.Truth.ADSB.DopplerTolerance <= 0 {
		return fmt.Errorf("truth.adsb.doppler_tolerance must be positive, got %f", *c.Truth.ADSB.DopplerTolerance)
	}

	for name, d := range map[string]*string{
		"truth.adsb.cache_interval": c.Truth.ADSB.CacheInterval,
		"truth.adsb.timeout":        c.Truth.ADSB.Timeout,
		"stash.detection_retention": c.Stash.DetectionRetention,
		"stash.poll_interval":       c.Stash.PollInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *d)
		}
	}

	for name, n := range map[string]*int{
		"stash.map_cpi":             c.Stash.MapCPI,
		"stash.detection_cpi":       c.Stash.DetectionCPI,
		"stash.timing_cpi":          c.Stash.TimingCPI,
		"stash.iqdata_cpi":          c.Stash.IQDataCPI,
		"ingest.max_document_bytes": c.Ingest.MaxDocumentBytes,
	} {
		if n != nil && *n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *n)
		}
	}

	if c.GetADSBEnabled() {
		if c.Location.Rx == nil || c.Location.Tx == nil {
			return fmt.Errorf("truth.adsb.enabled requires location.rx and location.tx")
		}
		if c.Capture.FC == nil {
			return fmt.Errorf("truth.adsb.enabled requires capture.fc")
		}
		if c.GetTar1090() == "" {
			return fmt.Errorf("truth.adsb.enabled requires truth.adsb.tar1090")
		}
	}
	return nil
}

// validatePortsDistinct rejects two listeners configured on the same port.
// Port 0 asks the kernel for a free port and may repeat.
func (c *Config) validatePortsDistinct() error {
	ports := c.ChannelPorts()
	ports["api"] = c.GetAPIPort()

	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)

	owner := make(map[int]string, len(ports))
	for _, name := range names {
		p := ports[name]
		if p == 0 {
			continue
		}
		if other, ok := owner[p]; ok {
			return fmt.Errorf("network.ports.%s and network.ports.%s both use port %d", other, name, p)
		}
		owner[p] = name
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// GetRx returns the receiver site, or the zero position.
func (c *Config) GetRx() geometry.LLA {
	if c.Location.Rx == nil {
		return geometry.LLA{}
	}
	return *c.Location.Rx
}

// GetTx returns the transmitter site, or the zero position.
func (c *Config) GetTx() geometry.LLA {
	if c.Location.Tx == nil {
		return geometry.LLA{}
	}
	return *c.Location.Tx
}

// GetFC returns the carrier frequency in Hz, or 0 when unset.
func (c *Config) GetFC() float64 {
	if c.Capture.FC == nil {
		return 0
	}
	return *c.Capture.FC
}

// GetBind returns the listen address for every port.
func (c *Config) GetBind() string {
	if c.Network.Bind == nil || *c.Network.Bind == "" {
		return "0.0.0.0"
	}
	return *c.Network.Bind
}

// GetAPIPort returns the HTTP read-surface port.
func (c *Config) GetAPIPort() int { return intOr(c.Network.Ports.API, DefaultAPIPort) }

// ChannelPorts returns the TCP port for each pipeline channel keyed by
// channel name.
func (c *Config) ChannelPorts() map[string]int {
	p := c.Network.Ports
	return map[string]int{
		"map":       intOr(p.Map, DefaultMapPort),
		"detection": intOr(p.Detection, DefaultDetectionPort),
		"track":     intOr(p.Track, DefaultTrackPort),
		"timestamp": intOr(p.Timestamp, DefaultTimestampPort),
		"timing":    intOr(p.Timing, DefaultTimingPort),
		"iqdata":    intOr(p.IQData, DefaultIQDataPort),

		"falsetargets": intOr(p.FalseTargets, DefaultFalseTargetsPort),
	}
}

// GetADSBEnabled reports whether detections are correlated with ADS-B.
func (c *Config) GetADSBEnabled() bool {
	if c.Truth.ADSB.Enabled == nil {
		return false
	}
	return *c.Truth.ADSB.Enabled
}

// GetTar1090 returns the tar1090 host, or "" when unset.
func (c *Config) GetTar1090() string {
	if c.Truth.ADSB.Tar1090 == nil {
		return ""
	}
	return *c.Truth.ADSB.Tar1090
}

// GetDelayTolerance returns the association delay gate in km.
func (c *Config) GetDelayTolerance() float64 {
	if c.Truth.ADSB.DelayTolerance == nil {
		return association.DefaultDelayTolerance
	}
	return *c.Truth.ADSB.DelayTolerance
}

// GetDopplerTolerance returns the association Doppler gate in Hz.
func (c *Config) GetDopplerTolerance() float64 {
	if c.Truth.ADSB.DopplerTolerance == nil {
		return association.DefaultDopplerTolerance
	}
	return *c.Truth.ADSB.DopplerTolerance
}

// GetCacheInterval returns the minimum time between aircraft refreshes.
func (c *Config) GetCacheInterval() time.Duration {
	return durationOr(c.Truth.ADSB.CacheInterval, adsb.DefaultInterval)
}

// GetFeedTimeout returns the tar1090 request deadline.
func (c *Config) GetFeedTimeout() time.Duration {
	return durationOr(c.Truth.ADSB.Timeout, adsb.DefaultTimeout)
}

// GetMapCPI returns the max-hold depth.
func (c *Config) GetMapCPI() int { return intOr(c.Stash.MapCPI, stash.DefaultMapCPI) }

// GetDetectionCPI returns the count-bounded detection history depth.
func (c *Config) GetDetectionCPI() int { return intOr(c.Stash.DetectionCPI, stash.DefaultDetectionCPI) }

// GetDetectionRetention returns the time-bounded detection history window.
func (c *Config) GetDetectionRetention() time.Duration {
	return durationOr(c.Stash.DetectionRetention, stash.DefaultDetectionRetention)
}

// GetTimingCPI returns the per-key timing history depth.
func (c *Config) GetTimingCPI() int { return intOr(c.Stash.TimingCPI, stash.DefaultTimingCPI) }

// GetIQDataCPI returns the spectrum history depth.
func (c *Config) GetIQDataCPI() int { return intOr(c.Stash.IQDataCPI, stash.DefaultIQDataCPI) }

// GetPollInterval returns the stash polling period.
func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.Stash.PollInterval, stash.DefaultPollInterval)
}

// GetMaxDocumentBytes returns the framing buffer cap.
func (c *Config) GetMaxDocumentBytes() int { return intOr(c.Ingest.MaxDocumentBytes, ingest.DefaultMaxDocumentBytes) }

// GetResetOnConnect reports whether a new connection discards a partial
// document.
func (c *Config) GetResetOnConnect() bool {
	if c.Ingest.ResetOnConnect == nil {
		return false
	}
	return *c.Ingest.ResetOnConnect
}

// GetGreeting returns the connection greeting; an explicit empty string
// disables it.
func (c *Config) GetGreeting() string {
	if c.Ingest.Greeting == nil {
		return ingest.DefaultGreeting
	}
	return *c.Ingest.Greeting
}
