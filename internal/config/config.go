package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/queue.defaults.json"

// Gate names.
const (
	GateNorth = "north"
	GateSouth = "south"
)

var receiverAddrRe = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)

// Config is the root configuration shared by every subcommand. Fields are
// pointers so a partial file only overrides what it names; the Get* methods
// supply defaults for the rest.
type Config struct {
	// Sensor index (as a decimal string) to receiver hardware address.
	Sensors        map[string]string `json:"sensors,omitempty"`
	NorthReceivers []int             `json:"north_receivers,omitempty"`
	SouthReceivers []int             `json:"south_receivers,omitempty"`
	Zones          []string          `json:"zones,omitempty"`

	// Gate pipelines
	ReadInterval        *string  `json:"read_interval,omitempty"`
	ProcessCycle        *string  `json:"process_cycle,omitempty"`
	ErrorBackoff        *string  `json:"error_backoff,omitempty"`
	WeakSignalFloor     *int     `json:"weak_signal_floor,omitempty"`
	MinPresenceSpan     *string  `json:"min_presence_span,omitempty"`
	DepartureMultiplier *float64 `json:"departure_multiplier,omitempty"`
	ArrivalBuffer       *string  `json:"arrival_buffer,omitempty"`
	InactivityGap       *string  `json:"inactivity_gap,omitempty"`
	ZoneWindow          *string  `json:"zone_window,omitempty"`
	HeadcountStep       *string  `json:"headcount_step,omitempty"`

	// Publisher
	DedupLookback       *string `json:"dedup_lookback,omitempty"`
	HeadcountDedupLimit *int    `json:"headcount_dedup_limit,omitempty"`
	QueueDedupLimit     *int    `json:"queue_dedup_limit,omitempty"`

	// Storage
	Retention *string `json:"retention,omitempty"`
	BatchSize *int    `json:"batch_size,omitempty"`

	// Ingestion
	IngestListen  *string `json:"ingest_listen,omitempty"`
	FlushInterval *string `json:"flush_interval,omitempty"`

	// Noise miner
	NoiseReadInterval        *string `json:"noise_read_interval,omitempty"`
	NoiseCycle               *string `json:"noise_cycle,omitempty"`
	NoiseMidnightHours       []int   `json:"noise_midnight_hours,omitempty"` // [first, last] inclusive
	NoiseDistinctHours       *int    `json:"noise_distinct_hours,omitempty"`
	NoiseRecentWindow        *string `json:"noise_recent_window,omitempty"`
	NoiseMinRecentDetections *int    `json:"noise_min_recent_detections,omitempty"`
	NoiseMaxGap              *string `json:"noise_max_gap,omitempty"`
	NoiseStayThreshold       *string `json:"noise_stay_threshold,omitempty"`
	Timezone                 *string `json:"timezone,omitempty"`

	// Resources
	AllowlistPath *string `json:"allowlist_path,omitempty"`
	DenylistPath  *string `json:"denylist_path,omitempty"`
	ModelPath     *string `json:"model_path,omitempty"`

	APIListen *string `json:"api_listen,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

var defaultSensors = map[int]string{
	1:  "E4956E480EC2",
	2:  "E4956E480EA6",
	3:  "E4956E480DEE",
	4:  "E4956E480ECA",
	5:  "E4956E480E5A",
	6:  "E4956E480E86",
	7:  "E4956E480EB6",
	8:  "E4956E4A4044",
	9:  "E4956E480E42",
	10: "E4956E4A4048",
	11: "E4956E4A4054",
}

// DefaultConfig returns a Config with every field populated with its default.
func DefaultConfig() *Config {
	sensors := make(map[string]string, len(defaultSensors))
	for k, v := range defaultSensors {
		sensors[strconv.Itoa(k)] = v
	}
	return &Config{
		Sensors:                  sensors,
		NorthReceivers:           []int{1, 2, 3, 4},
		SouthReceivers:           []int{5, 6, 7, 8, 9, 10, 11},
		Zones:                    []string{"B91M", "M11", "M104", "B91P"},
		ReadInterval:             ptrString("30m"),
		ProcessCycle:             ptrString("60s"),
		ErrorBackoff:             ptrString("60s"),
		WeakSignalFloor:          ptrInt(-70),
		MinPresenceSpan:          ptrString("60s"),
		DepartureMultiplier:      ptrFloat64(3),
		ArrivalBuffer:            ptrString("0s"),
		InactivityGap:            ptrString("30m"),
		ZoneWindow:               ptrString("2m"),
		HeadcountStep:            ptrString("5s"),
		DedupLookback:            ptrString("1h"),
		HeadcountDedupLimit:      ptrInt(720),
		QueueDedupLimit:          ptrInt(60),
		Retention:                ptrString("176h"),
		BatchSize:                ptrInt(1000),
		IngestListen:             ptrString(":3650"),
		FlushInterval:            ptrString("30s"),
		NoiseReadInterval:        ptrString("72h"),
		NoiseCycle:               ptrString("1h"),
		NoiseMidnightHours:       []int{2, 4},
		NoiseDistinctHours:       ptrInt(6),
		NoiseRecentWindow:        ptrString("6h"),
		NoiseMinRecentDetections: ptrInt(11),
		NoiseMaxGap:              ptrString("30m"),
		NoiseStayThreshold:       ptrString("90m"),
		Timezone:                 ptrString("UTC"),
		AllowlistPath:            ptrString("resources/mac_prefix.json"),
		DenylistPath:             ptrString("resources/filter_list.json"),
		ModelPath:                ptrString("resources/model.json"),
		APIListen:                ptrString(":8081"),
	}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. Omitted fields fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upward from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"read_interval":        c.ReadInterval,
		"process_cycle":        c.ProcessCycle,
		"error_backoff":        c.ErrorBackoff,
		"min_presence_span":    c.MinPresenceSpan,
		"arrival_buffer":       c.ArrivalBuffer,
		"inactivity_gap":       c.InactivityGap,
		"zone_window":          c.ZoneWindow,
		"headcount_step":       c.HeadcountStep,
		"dedup_lookback":       c.DedupLookback,
		"retention":            c.Retention,
		"flush_interval":       c.FlushInterval,
		"noise_read_interval":  c.NoiseReadInterval,
		"noise_cycle":          c.NoiseCycle,
		"noise_recent_window":  c.NoiseRecentWindow,
		"noise_max_gap":        c.NoiseMaxGap,
		"noise_stay_threshold": c.NoiseStayThreshold,
	}
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := durations[name]
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
		if d == 0 && name != "arrival_buffer" {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	for idx, addr := range c.Sensors {
		if n, err := strconv.Atoi(idx); err != nil || n <= 0 {
			return fmt.Errorf("sensor index must be a positive integer, got %q", idx)
		}
		if !receiverAddrRe.MatchString(addr) {
			return fmt.Errorf("sensor %s address must be 12 hex digits, got %q", idx, addr)
		}
	}

	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.WeakSignalFloor != nil && *c.WeakSignalFloor > 0 {
		return fmt.Errorf("weak_signal_floor must be a dBm value <= 0, got %d", *c.WeakSignalFloor)
	}
	if c.DepartureMultiplier != nil && *c.DepartureMultiplier < 0 {
		return fmt.Errorf("departure_multiplier must be non-negative, got %f", *c.DepartureMultiplier)
	}
	if c.NoiseMidnightHours != nil {
		h := c.NoiseMidnightHours
		if len(h) != 2 || h[0] < 0 || h[1] > 23 || h[0] > h[1] {
			return fmt.Errorf("noise_midnight_hours must be [first, last] within 0..23, got %v", h)
		}
	}
	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *c.Timezone, err)
		}
	}
	if c.Zones != nil && len(c.Zones) != 4 {
		return fmt.Errorf("zones must name exactly 4 zones, got %d", len(c.Zones))
	}
	for _, lim := range []struct {
		name string
		v    *int
	}{
		{"headcount_dedup_limit", c.HeadcountDedupLimit},
		{"queue_dedup_limit", c.QueueDedupLimit},
		{"noise_distinct_hours", c.NoiseDistinctHours},
		{"noise_min_recent_detections", c.NoiseMinRecentDetections},
	} {
		if lim.v != nil && *lim.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", lim.name, *lim.v)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}
