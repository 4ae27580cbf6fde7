// Package conf loads, validates and persists scanrelay settings.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/scanrelay/scanrelay/internal/logger"
)

// MainSettings identifies this client instance
type MainSettings struct {
	Name   string `yaml:"name"`
	Origin string `yaml:"origin"` // opaque client-identifying string sent as "ua"
}

// ContextSettings holds the free-text labels attached to every record
type ContextSettings struct {
	Exhibition string `yaml:"exhibition"`
	Venue      string `yaml:"venue"`
}

// CaptureSettings selects the recognition engine and its input device
type CaptureSettings struct {
	Mode      string `yaml:"mode"`   // qr or barcode
	Source    string `yaml:"source"` // line or mqtt
	Device    string `yaml:"device"` // file path, "-" for stdin
	AutoStart bool   `yaml:"autostart"`
	AutoSave  bool   `yaml:"autosave"` // deliver accepted detections without a manual submit
	History   int    `yaml:"history"`  // number of recent scans kept for the status surface
}

// FallbackSettings configures the JSONP fallback transport
type FallbackSettings struct {
	Enabled    bool          `yaml:"enabled"`
	Timeout    time.Duration `yaml:"timeout"`    // upper bound on the callback wait
	MaxPayload int           `yaml:"maxpayload"` // bounded length of the encoded payload parameter
}

// EndpointSettings points at the remote collection endpoint
type EndpointSettings struct {
	URL      string           `yaml:"url"`
	Timeout  time.Duration    `yaml:"timeout"`
	Fallback FallbackSettings `yaml:"fallback"`
}

// DrainSettings controls queue replay
type DrainSettings struct {
	Interval  time.Duration `yaml:"interval"`  // 0 disables periodic drain
	RateLimit float64       `yaml:"ratelimit"` // sends per second, 0 is unlimited
}

// QueueSettings selects the durable queue backend
type QueueSettings struct {
	Backend string        `yaml:"backend"` // file, sqlite, mysql or memory
	Path    string        `yaml:"path"`    // file or sqlite path
	DSN     string        `yaml:"dsn"`     // mysql DSN
	Key     string        `yaml:"key"`     // durable key holding the queue
	Drain   DrainSettings `yaml:"drain"`
}

// LocationSettings configures the best-effort location lookup
type LocationSettings struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // static or http
	Latitude  float64       `yaml:"latitude"`
	Longitude float64       `yaml:"longitude"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cachettl"`
}

// MQTTSettings configures the broker used by the MQTT engine and status publisher
type MQTTSettings struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"clientid"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	DetectionTopic string `yaml:"detectiontopic"`
	StatusTopic    string `yaml:"statustopic"`
}

// WebServerSettings configures the control API
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StatsSettings configures the stats dashboard refresh
type StatsSettings struct {
	Days int `yaml:"days"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings contains all configuration options
type Settings struct {
	Debug     bool                 `yaml:"debug"`
	Main      MainSettings         `yaml:"main"`
	Context   ContextSettings      `yaml:"context"`
	Capture   CaptureSettings      `yaml:"capture"`
	Endpoint  EndpointSettings     `yaml:"endpoint"`
	Queue     QueueSettings        `yaml:"queue"`
	Location  LocationSettings     `yaml:"location"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Stats     StatsSettings        `yaml:"stats"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Sentry    SentrySettings       `yaml:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configFile (or the first config.yaml found on the default paths),
// applies defaults and SCANRELAY_* environment overrides, and validates the result.
// A missing config file is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix("SCANRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range DefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultSettings returns settings populated only from defaults
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// Defaults are static, unmarshal cannot fail on them.
	_ = v.Unmarshal(settings)
	return settings
}

// DefaultConfigPaths lists where config.yaml is searched for
func DefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "scanrelay"))
	}
	return append(paths, "/etc/scanrelay")
}

// SaveYAMLConfig writes settings to configPath atomically
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
