package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".vmagent"
	configFile string = "config.yml"

	// DefaultResolverCacheSize is the number of assignability results kept
	// when resolver-cache-size is not set.
	DefaultResolverCacheSize = 256
	// DefaultMaxStackDepth is the number of frames printed by stack when
	// max-stack-depth is not set.
	DefaultMaxStackDepth = 50
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// SelfFrameAccess is the policy used when a thread accesses the locals
	// of its own compiled frames: "direct" or "deoptimize".
	SelfFrameAccess string `yaml:"self-frame-access,omitempty"`

	// ResolverCacheSize is the number of assignability results cached by
	// the class resolver.
	ResolverCacheSize *int `yaml:"resolver-cache-size,omitempty"`

	// EventSink is the websocket URL deferred events are forwarded to.
	EventSink string `yaml:"event-sink,omitempty"`

	// MaxStackDepth is the maximum number of frames reported by stack
	// traces.
	MaxStackDepth *int `yaml:"max-stack-depth,omitempty"`

	// ServicePollInterval is how often the idle service thread wakes up to
	// run entry barriers. Zero means it only wakes up for new events.
	ServicePollInterval time.Duration `yaml:"service-poll-interval,omitempty"`

	// EventQueueLimit is the maximum number of queued deferred events, zero
	// for no limit.
	EventQueueLimit int `yaml:"event-queue-limit,omitempty"`
}

// ResolverCacheSizeOrDefault returns the configured resolver cache size.
func (c *Config) ResolverCacheSizeOrDefault() int {
	if c.ResolverCacheSize == nil || *c.ResolverCacheSize <= 0 {
		return DefaultResolverCacheSize
	}
	return *c.ResolverCacheSize
}

// MaxStackDepthOrDefault returns the configured maximum stack depth.
func (c *Config) MaxStackDepthOrDefault() int {
	if c.MaxStackDepth == nil || *c.MaxStackDepth <= 0 {
		return DefaultMaxStackDepth
	}
	return *c.MaxStackDepth
}

// Validate checks the values that can not be checked by the decoder.
func (c *Config) Validate() error {
	switch c.SelfFrameAccess {
	case "", "direct", "deoptimize":
	default:
		return fmt.Errorf("self-frame-access: unknown policy %q", c.SelfFrameAccess)
	}
	if c.ServicePollInterval < 0 {
		return fmt.Errorf("service-poll-interval: negative interval %v", c.ServicePollInterval)
	}
	if c.EventQueueLimit < 0 {
		return fmt.Errorf("event-queue-limit: negative limit %d", c.EventQueueLimit)
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); err != nil {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
		f.Close()
	}

	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads and validates the configuration file at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %v", err)
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %v", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for vmagent.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# How a thread reads the locals of its own compiled frames. "direct" reads
# them in place unless objects were scalar replaced, "deoptimize" always
# materializes the frame first.
# self-frame-access: direct

# Number of class assignability results cached by the resolver.
# resolver-cache-size: 256

# Websocket URL deferred events are forwarded to.
# event-sink: ws://localhost:8080/events

# Maximum number of frames printed by the stack command.
# max-stack-depth: 50

# Interval at which the idle service thread runs the entry barriers of queued code.
# service-poll-interval: 1s

# Maximum number of queued deferred events, events past the limit are dropped.
# event-queue-limit: 0
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
