// Package config holds the settings of the lifescope command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chrynan/lifescope/chanx"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Debounce  Debounce  `yaml:"debounce"`
	Buffer    Buffer    `yaml:"buffer"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	Log       Log       `yaml:"log"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Debounce struct {
	Window        time.Duration `yaml:"window"`
	CorrectedWait bool          `yaml:"correctedWait"`
}

type Buffer struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

type Dispatch struct {
	Workers int `yaml:"workers"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Telemetry struct {
	// MetricsAddr is the listen address of the Prometheus endpoint. Empty
	// disables it.
	MetricsAddr string `yaml:"metricsAddr"`
	Stdout      bool   `yaml:"stdout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Debounce: Debounce{Window: chanx.DefaultDebounceWindow},
		Buffer:   Buffer{Capacity: 1, Overflow: chanx.Conflate.String()},
		Dispatch: Dispatch{Workers: 4},
		Log:      Log{Level: zerolog.InfoLevel.String()},
	}
}

// Load reads a YAML file over the defaults.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	return config, config.Validate()
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Debounce.Window < 0 {
		errs = append(errs, errors.New("debounce.window must not be negative"))
	}
	overflow, err := c.Overflow()
	if err != nil {
		errs = append(errs, fmt.Errorf("buffer.overflow: %w", err))
	}
	switch {
	case c.Buffer.Capacity < 0:
		errs = append(errs, errors.New("buffer.capacity must not be negative"))
	case c.Buffer.Capacity == 0 && (overflow == chanx.DropOldest || overflow == chanx.DropNewest):
		errs = append(errs, fmt.Errorf("buffer.capacity must be positive with %s", overflow))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("dispatch.workers must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Overflow parses Buffer.Overflow.
func (c *Config) Overflow() (chanx.Overflow, error) {
	return chanx.ParseOverflow(c.Buffer.Overflow)
}

// Level parses Log.Level.
func (c *Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.Log.Level)
}
