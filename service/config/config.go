// Package config loads the service configuration from YAML with
// WEBENSEMBLE_* environment overrides.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEBENSEMBLE_"

// MaxFileSize bounds the configuration file.
const MaxFileSize = 1 << 20

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	DataDir string        `yaml:"data_dir" validate:"required"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// StorageConfig configures the model store.
type StorageConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

// WorkerConfig configures the fit queue.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=256"`
	QueueSize   int `yaml:"queue_size" validate:"gte=1"`
	// Seed seeds every fit generator, 0 for process entropy.
	Seed uint64 `yaml:"seed"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{Path: "data/models"},
		Worker:  WorkerConfig{Concurrency: 2, QueueSize: 64},
		DataDir: "data/datasets",
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path (may be empty for defaults only), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config")
		}
		defer f.Close()
		if err := decode(f, &cfg); err != nil {
			return nil, errors.Wrapf(err, "config %s", path)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults and validates it. Environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if len(data) > MaxFileSize {
		return errors.Newf("config exceeds %d bytes", MaxFileSize)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrap(err, "decode yaml")
	}
	return nil
}

type override struct {
	key string
	set func(string) error
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) { *dst, err = time.ParseDuration(v); return }
	}
	num := func(dst *int) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.Atoi(v); return }
	}

	overrides := []override{
		{"SERVER_ADDR", str(&cfg.Server.Addr)},
		{"SERVER_READ_TIMEOUT", dur(&cfg.Server.ReadTimeout)},
		{"SERVER_WRITE_TIMEOUT", dur(&cfg.Server.WriteTimeout)},
		{"STORAGE_PATH", str(&cfg.Storage.Path)},
		{"STORAGE_IN_MEMORY", func(v string) (err error) { cfg.Storage.InMemory, err = strconv.ParseBool(v); return }},
		{"WORKER_CONCURRENCY", num(&cfg.Worker.Concurrency)},
		{"WORKER_QUEUE_SIZE", num(&cfg.Worker.QueueSize)},
		{"WORKER_SEED", func(v string) (err error) { cfg.Worker.Seed, err = strconv.ParseUint(v, 10, 64); return }},
		{"DATA_DIR", str(&cfg.DataDir)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
	}
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return errors.NewValidationError(EnvPrefix+o.key, err.Error(), v)
		}
	}
	return nil
}
