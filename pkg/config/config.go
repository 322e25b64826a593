package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultConfigFileName is the file name used when a directory is given
	DefaultConfigFileName = "blocksim.json"
	CurrentConfigVersion  = 1
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

// Medium codecs understood by the simulator
const (
	CodecNone   = "none"
	CodecSnappy = "snappy"
	CodecZstd   = "zstd"
)

// Config describes one simulation run: the block budget of the manager and
// how block images are kept on the simulated medium.
type Config struct {
	Version int `json:"version"`

	// Block budget
	TotalBlocks   int `json:"total_blocks"`
	BlockCapacity int `json:"block_capacity"`

	// Medium configuration
	MediumCodec     string `json:"medium_codec"`
	VerifyChecksums bool   `json:"verify_checksums"`
	ImageCacheBytes int64  `json:"image_cache_bytes"` // 0 disables the image cache

	LogLevel string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,

		TotalBlocks:   25,
		BlockCapacity: 10,

		MediumCodec:     CodecSnappy,
		VerifyChecksums: true,
		ImageCacheBytes: 4 * 1024 * 1024, // 4MB

		LogLevel: "info",
	}
}

// NewConfig creates a default Config with the given block budget
func NewConfig(totalBlocks, blockCapacity int) *Config {
	cfg := NewDefaultConfig()
	cfg.TotalBlocks = totalBlocks
	cfg.BlockCapacity = blockCapacity
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.TotalBlocks < 1 {
		return fmt.Errorf("%w: total blocks must be positive", ErrInvalidConfig)
	}

	if c.BlockCapacity < 1 {
		return fmt.Errorf("%w: block capacity must be positive", ErrInvalidConfig)
	}

	switch c.MediumCodec {
	case CodecNone, CodecSnappy, CodecZstd:
	default:
		return fmt.Errorf("%w: unknown medium codec %q", ErrInvalidConfig, c.MediumCodec)
	}

	if c.ImageCacheBytes < 0 {
		return fmt.Errorf("%w: image cache size must not be negative", ErrInvalidConfig)
	}

	return nil
}

// LoadFromEnv overrides fields from BLOCKSIM_* environment variables.
// Unparsable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("BLOCKSIM_TOTAL_BLOCKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.TotalBlocks = n
		}
	}

	if val := os.Getenv("BLOCKSIM_BLOCK_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BlockCapacity = n
		}
	}

	if val := os.Getenv("BLOCKSIM_MEDIUM_CODEC"); val != "" {
		c.MediumCodec = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("BLOCKSIM_VERIFY_CHECKSUMS"); val != "" {
		if verify, err := strconv.ParseBool(val); err == nil {
			c.VerifyChecksums = verify
		}
	}

	if val := os.Getenv("BLOCKSIM_IMAGE_CACHE_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.ImageCacheBytes = n
		}
	}

	if val := os.Getenv("BLOCKSIM_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
}

// LoadConfig reads and validates a configuration file. If path is a
// directory, DefaultConfigFileName inside it is read.
func LoadConfig(path string) (*Config, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultConfigFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration to path, replacing any existing file atomically
func (c *Config) SaveConfig(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
