// Package config provides configuration management for MemU
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/memtensor/memu/pkg/errors"
	"github.com/memtensor/memu/pkg/interfaces"
	"github.com/memtensor/memu/pkg/types"
)

// MemUConfig represents the MemU storage configuration
type MemUConfig struct {
	StoragePath string            `yaml:"storage_path" json:"storage_path" mapstructure:"storage_path" validate:"required"`
	MaxDepth    int               `yaml:"max_depth" json:"max_depth" mapstructure:"max_depth" validate:"gte=1"`
	MaxNodes    int               `yaml:"max_nodes,omitempty" json:"max_nodes,omitempty" mapstructure:"max_nodes" validate:"gte=0"`
	CacheSize   int               `yaml:"cache_size" json:"cache_size" mapstructure:"cache_size" validate:"gte=1"`
	WritePolicy types.WritePolicy `yaml:"write_policy" json:"write_policy" mapstructure:"write_policy" validate:"required,oneof=write-through write-back"`

	LogLevel       string `yaml:"log_level,omitempty" json:"log_level,omitempty" mapstructure:"log_level"`
	LogFile        string `yaml:"log_file,omitempty" json:"log_file,omitempty" mapstructure:"log_file"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled" mapstructure:"metrics_enabled"`

	mu        sync.RWMutex
	validator *validator.Validate
}

// NewMemUConfig creates a configuration with defaults
func NewMemUConfig() *MemUConfig {
	return &MemUConfig{
		StoragePath:    "./memu-data",
		MaxDepth:       5,
		MaxNodes:       0, // unbounded
		CacheSize:      1000,
		WritePolicy:    types.WritePolicyThrough,
		LogLevel:       "info",
		MetricsEnabled: true,
	}
}

// Validate validates the configuration
func (c *MemUConfig) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.validator == nil {
		c.validator = validator.New()
	}
	if err := c.validator.Struct(c); err != nil {
		return errors.NewConfigInvalidError(err.Error())
	}
	return nil
}

// FromJSONFile loads configuration from a JSON file
func (c *MemUConfig) FromJSONFile(path string) error {
	return c.fromFile(path, "json")
}

// FromYAMLFile loads configuration from a YAML file
func (c *MemUConfig) FromYAMLFile(path string) error {
	return c.fromFile(path, "yaml")
}

func (c *MemUConfig) fromFile(path, format string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return v.Unmarshal(c)
}

// ToYAMLFile saves configuration to a YAML file
func (c *MemUConfig) ToYAMLFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// ConfigManager implements the configuration manager interface
type ConfigManager struct {
	config map[string]interface{}
	mu     sync.RWMutex
	viper  *viper.Viper
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() interfaces.ConfigManager {
	return &ConfigManager{
		config: make(map[string]interface{}),
		viper:  viper.New(),
	}
}

// Load loads configuration from a file
func (cm *ConfigManager) Load(ctx context.Context, path string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.viper.SetConfigFile(path)

	if err := cm.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cm.config = cm.viper.AllSettings()
	return nil
}

// Get retrieves a configuration value
func (cm *ConfigManager) Get(key string) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.viper.Get(key)
}

// Set sets a configuration value
func (cm *ConfigManager) Set(key string, value interface{}) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.viper.Set(key, value)
	cm.config[key] = value
	return nil
}

// Save saves configuration to a file
func (cm *ConfigManager) Save(ctx context.Context, path string) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.viper.WriteConfigAs(path)
}

// Watch watches for configuration changes
func (cm *ConfigManager) Watch(ctx context.Context, callback func(key string, value interface{})) error {
	cm.viper.WatchConfig()
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		cm.mu.Lock()
		defer cm.mu.Unlock()

		cm.config = cm.viper.AllSettings()

		for key, value := range cm.config {
			callback(key, value)
		}
	})

	return nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}
