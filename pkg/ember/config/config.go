// Package config loads server.Config from a YAML file and EMBER_*
// environment variables via viper, following thushan-olla's
// internal/config Load pattern: defaults first, then file, then env,
// with optional live-reload on file change.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/watt-toolkit/ember/pkg/ember/server"
)

// File is the File holding ember's own settings not already covered by
// server.Config: listen address and log level/format, mirroring the
// top-level fields thushan-olla's Config wraps ServerConfig/LoggingConfig
// in.
type File struct {
	Addr string `mapstructure:"addr"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Output string `mapstructure:"output"`
	} `mapstructure:"logging"`

	Server server.Config `mapstructure:"server"`
}

// DefaultFile returns ember's documented defaults: server.DefaultConfig
// for the embedded Server section, ":8080" for Addr, and info/json/stdout
// logging.
func DefaultFile() *File {
	f := &File{Addr: ":8080", Server: server.DefaultConfig()}
	f.Logging.Level = "info"
	f.Logging.Format = "json"
	f.Logging.Output = "stdout"
	return f
}

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// Load reads ember's configuration from ./config.yaml (or ./config/),
// falling back silently to defaults if no file exists. EMBER_*-prefixed
// environment variables override keys that the loaded file sets; a key
// absent from the file (or any key, when no file is loaded) keeps its
// default even if its variable is set. If onChange is non-nil, the
// file is watched and onChange is called (debounced) after it changes.
func Load(onChange func()) (*File, error) {
	f := DefaultFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("EMBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
		if configFile := os.Getenv("EMBER_CONFIG_FILE"); configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(f); err != nil {
		return nil, fmt.Errorf("config: decoding config: %w", err)
	}

	if onChange != nil {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now
			onChange()
		})
	}

	return f, nil
}
