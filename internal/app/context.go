package app

import (
	"fmt"

	"github.com/scanrelay/scanrelay/internal/buildinfo"
	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// Context is shared by all commands. Global flags write into it before
// Load runs.
type Context struct {
	Build      *buildinfo.Context
	ConfigFile string
	Debug      bool

	Settings *conf.Settings
	Log      *logger.CentralLogger
}

// NewContext creates a Context for build.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Build: build}
}

// Load reads settings and installs the global logger.
func (c *Context) Load() error {
	settings, err := conf.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	applyOrigin(settings, c.Build)
	if c.Debug {
		settings.Debug = true
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	log, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(log)

	c.Settings = settings
	c.Log = log
	return nil
}

// NewApp assembles an App from the loaded settings.
func (c *Context) NewApp(opts ...Option) (*App, error) {
	if c.Settings == nil {
		return nil, fmt.Errorf("settings not loaded")
	}
	opts = append([]Option{WithLogger(c.Log.Module("scanrelay"))}, opts...)
	return New(c.Settings, c.Build, opts...)
}

// Close flushes and closes the logger.
func (c *Context) Close() error {
	if c.Log == nil {
		return nil
	}
	return c.Log.Close()
}
