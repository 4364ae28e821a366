package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable knob for the server, workers and stream.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Retry   RetryConfig   `yaml:"retry"`
	Stream  StreamConfig  `yaml:"stream"`
	Upload  UploadConfig  `yaml:"upload"`
	Limits  LimitsConfig  `yaml:"limits"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Root       string        `yaml:"root"`
	QueueDB    string        `yaml:"queue_db"`
	AssetsRoot string        `yaml:"assets_root"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type WorkerConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTime    time.Duration `yaml:"lease_time"`
	SoftTimeout  time.Duration `yaml:"soft_timeout"`
	HardTimeout  time.Duration `yaml:"hard_timeout"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

type StreamConfig struct {
	MaxSubscribers int           `yaml:"max_subscribers"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	Keepalive      time.Duration `yaml:"keepalive"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	BufferSize     int           `yaml:"buffer_size"`
	RetryHintMS    int           `yaml:"retry_hint_ms"`
}

type UploadConfig struct {
	MaxFileMB  int64    `yaml:"max_file_mb"`
	Extensions []string `yaml:"extensions"`
}

type LimitsConfig struct {
	JobsPerHour      int `yaml:"jobs_per_hour"`
	DownloadsPerHour int `yaml:"downloads_per_hour"`
}

type CleanupConfig struct {
	RetentionDays  int           `yaml:"retention_days"`
	Interval       time.Duration `yaml:"interval"`
	ReconcileAfter time.Duration `yaml:"reconcile_after"`
}

// parseDur overrides dst when s is set. Durations in the file use Go syntax
// ("90s", "5m", "6h").
func parseDur(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// The duration-bearing sections decode by hand because yaml has no native
// duration scalar. Absent fields keep whatever value the struct already
// holds, so file values layer over the defaults.

func (c *StorageConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Root       string `yaml:"root"`
		QueueDB    string `yaml:"queue_db"`
		AssetsRoot string `yaml:"assets_root"`
		CacheTTL   string `yaml:"cache_ttl"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Root != "" {
		c.Root = raw.Root
	}
	if raw.QueueDB != "" {
		c.QueueDB = raw.QueueDB
	}
	if raw.AssetsRoot != "" {
		c.AssetsRoot = raw.AssetsRoot
	}
	return parseDur(&c.CacheTTL, raw.CacheTTL)
}

func (c *WorkerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Count        int    `yaml:"count"`
		PollInterval string `yaml:"poll_interval"`
		LeaseTime    string `yaml:"lease_time"`
		SoftTimeout  string `yaml:"soft_timeout"`
		HardTimeout  string `yaml:"hard_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Count > 0 {
		c.Count = raw.Count
	}
	for _, f := range []struct {
		dst *time.Duration
		src string
	}{
		{&c.PollInterval, raw.PollInterval},
		{&c.LeaseTime, raw.LeaseTime},
		{&c.SoftTimeout, raw.SoftTimeout},
		{&c.HardTimeout, raw.HardTimeout},
	} {
		if err := parseDur(f.dst, f.src); err != nil {
			return err
		}
	}
	return nil
}

func (c *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries *int   `yaml:"max_retries"`
		BaseDelay  string `yaml:"base_delay"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRetries != nil {
		c.MaxRetries = *raw.MaxRetries
	}
	return parseDur(&c.BaseDelay, raw.BaseDelay)
}

func (c *StreamConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxSubscribers int    `yaml:"max_subscribers"`
		MaxLifetime    string `yaml:"max_lifetime"`
		Keepalive      string `yaml:"keepalive"`
		PollInterval   string `yaml:"poll_interval"`
		BufferSize     int    `yaml:"buffer_size"`
		RetryHintMS    int    `yaml:"retry_hint_ms"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxSubscribers > 0 {
		c.MaxSubscribers = raw.MaxSubscribers
	}
	if raw.BufferSize > 0 {
		c.BufferSize = raw.BufferSize
	}
	if raw.RetryHintMS > 0 {
		c.RetryHintMS = raw.RetryHintMS
	}
	for _, f := range []struct {
		dst *time.Duration
		src string
	}{
		{&c.MaxLifetime, raw.MaxLifetime},
		{&c.Keepalive, raw.Keepalive},
		{&c.PollInterval, raw.PollInterval},
	} {
		if err := parseDur(f.dst, f.src); err != nil {
			return err
		}
	}
	return nil
}

func (c *CleanupConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		RetentionDays  int    `yaml:"retention_days"`
		Interval       string `yaml:"interval"`
		ReconcileAfter string `yaml:"reconcile_after"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.RetentionDays > 0 {
		c.RetentionDays = raw.RetentionDays
	}
	if err := parseDur(&c.Interval, raw.Interval); err != nil {
		return err
	}
	return parseDur(&c.ReconcileAfter, raw.ReconcileAfter)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Root: "./storage", QueueDB: "./queue.db", AssetsRoot: "./assets", CacheTTL: 2 * time.Second},
		Worker: WorkerConfig{
			Count:        2,
			PollInterval: 2 * time.Second,
			LeaseTime:    30 * time.Second,
			SoftTimeout:  55 * time.Minute,
			HardTimeout:  60 * time.Minute,
		},
		Retry: RetryConfig{MaxRetries: 3, BaseDelay: 60 * time.Second},
		Stream: StreamConfig{
			MaxSubscribers: 10,
			MaxLifetime:    300 * time.Second,
			Keepalive:      30 * time.Second,
			PollInterval:   time.Second,
			BufferSize:     100,
			RetryHintMS:    3000,
		},
		Upload: UploadConfig{
			MaxFileMB: 50,
			Extensions: []string{
				".pdf", ".pptx", ".docx",
				".xlsx", ".xls", ".csv",
				".txt", ".md", ".markdown",
				".png", ".jpg", ".jpeg", ".gif",
			},
		},
		Limits:  LimitsConfig{JobsPerHour: 20, DownloadsPerHour: 100},
		Cleanup: CleanupConfig{RetentionDays: 7, Interval: 6 * time.Hour, ReconcileAfter: 5 * time.Minute},
	}
}

// Load reads a yaml config file over the defaults, then applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployment env vars win over the file for the common knobs.
func (c *Config) applyEnv() {
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("ASSETS_ROOT"); v != "" {
		c.Storage.AssetsRoot = v
	}
	if v := os.Getenv("QUEUE_DB"); v != "" {
		c.Storage.QueueDB = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.Count = n
		}
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cleanup.RetentionDays = n
		}
	}
}

// AllowedExtension reports whether ext (lowercase, with dot) is accepted for upload.
func (c *Config) AllowedExtension(ext string) bool {
	for _, e := range c.Upload.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
