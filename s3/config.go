package s3

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// S3's hard ceiling on multipart part numbers.
const maxParts = 10000

// Config holds the client configuration. Timeout values are seconds in the
// TOML file. Changes applied through Reconfigure take effect for operations
// started afterwards only.
type Config struct {
	ConfigPath string `toml:"-"`

	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Host            string `toml:"host"`
	TLS             bool   `toml:"tls"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	PathStyle       bool   `toml:"path_style"`

	MaxRetries  int   `toml:"max_retries"`
	ListMaxKeys int   `toml:"list_max_keys"`
	PartSize    int64 `toml:"part_size"`
	ReadSize    int   `toml:"read_size"`

	Timeout      int `toml:"timeout"`       // per-operation, metadata calls
	StallTimeout int `toml:"stall_timeout"` // no-progress window, transfers

	Debug bool `toml:"debug"`
}

// settings is the immutable per-operation snapshot derived from Config.
// Every operation captures one at entry and never rereads the Config.
type settings struct {
	accessKey    string
	secretKey    string
	host         string
	tls          bool
	bucket       string
	prefix       string
	pathStyle    bool
	maxRetries   int
	listMaxKeys  int
	partSize     int64
	readSize     int
	timeout      time.Duration
	stallTimeout time.Duration
}

// ReadConfig loads the TOML configuration file at ConfigPath.
func (cfg *Config) ReadConfig() error {
	if cfg.ConfigPath == "" {
		return errors.New("no config path specified")
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", cfg.ConfigPath, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error parsing %s: %w", cfg.ConfigPath, err)
	}

	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Host == "" {
		cfg.Host = "s3.amazonaws.com"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ListMaxKeys == 0 {
		cfg.ListMaxKeys = 1000
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = 100 * 1024 * 1024
	}
	if cfg.ReadSize == 0 {
		cfg.ReadSize = 64 * 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = 30
	}
}

func (cfg *Config) validate() error {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return &ConfigError{Reason: "access_key_id and secret_access_key are required"}
	}
	if cfg.PartSize < 0 || cfg.ReadSize < 0 {
		return &ConfigError{Reason: "part_size and read_size must be positive"}
	}
	return nil
}

func (cfg *Config) snapshot() settings {
	return settings{
		accessKey:    cfg.AccessKeyID,
		secretKey:    cfg.SecretAccessKey,
		host:         cfg.Host,
		tls:          cfg.TLS,
		bucket:       cfg.Bucket,
		prefix:       cfg.Prefix,
		pathStyle:    cfg.PathStyle,
		maxRetries:   cfg.MaxRetries,
		listMaxKeys:  cfg.ListMaxKeys,
		partSize:     cfg.PartSize,
		readSize:     cfg.ReadSize,
		timeout:      time.Duration(cfg.Timeout) * time.Second,
		stallTimeout: time.Duration(cfg.StallTimeout) * time.Second,
	}
}
