package config

import (
	"strconv"
	"sync"
	"time"
)

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
		restartKeys: []string{
			"deployment",
			"backend",
			"transport",
			"catalog_url",
			"registry_url",
		},
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Set stores a single configuration value.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// GetBool retrieves a configuration value parsed as a bool; unset or
// unparseable values are false.
func (c *Config) GetBool(key string) bool {
	v, _ := strconv.ParseBool(c.Get(key))
	return v
}

// GetInt retrieves a configuration value parsed as an int, falling back
// to def when unset or unparseable.
func (c *Config) GetInt(key string, def int) int {
	v, err := strconv.Atoi(c.Get(key))
	if err != nil {
		return def
	}
	return v
}

// GetDuration retrieves an integer-seconds configuration value as a
// time.Duration, falling back to def when unset or unparseable.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	secs := c.GetInt(key, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}

// SetRestartKeys sets which configuration keys require restart when changed
func (c *Config) SetRestartKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = keys
}
