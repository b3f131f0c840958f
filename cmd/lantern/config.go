package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "LANTERN_CONFIG"

// Config is the optional config file ($XDG_CONFIG_HOME/lantern/config.yaml).
// Pointer fields distinguish "not set" from zero values. Flags set on the
// command line always win.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	Threads      *int64   `yaml:"threads"`
	ContextSize  *int64   `yaml:"context_size"`
	BatchSize    *int64   `yaml:"batch_size"`
	MaxNewTokens *int64   `yaml:"max_new_tokens"`
	Temperature  *float64 `yaml:"temperature"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
	GRPCAddress   string `yaml:"grpc_address"`
}

func configPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lantern", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config;
// a malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

type configKey struct{}

func withConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config defaults to the shared model flags when
// the corresponding flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		threads = *cfg.Threads
	}
	if cfg.ContextSize != nil && !c.IsSet("ctx-size") {
		contextSize = *cfg.ContextSize
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		batchSize = *cfg.BatchSize
	}
}

func applyRunConfig(c *cli.Command, cfg Config, maxNew *int64, temp *float64) {
	applyModelConfig(c, cfg)
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		*maxNew = *cfg.MaxNewTokens
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		*temp = *cfg.Temperature
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr, grpcAddr *string, maxNew *int64) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.GRPCAddress != "" && !c.IsSet("grpc-addr") {
		*grpcAddr = cfg.GRPCAddress
	}
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		*maxNew = *cfg.MaxNewTokens
	}
}
