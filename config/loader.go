package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// ProjectConfigFile is the name of the project-level config file,
	// looked up at the analysis root.
	ProjectConfigFile = ".semcheck.yaml"

	// EnvPrefix prefixes environment overrides: SEMCHECK_FILE_TIMEOUT=30s
	// sets file_timeout.
	EnvPrefix = "SEMCHECK_"
)

// Loader layers configuration sources with increasing precedence:
// defaults, project config file, environment, CLI flags.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration for an analysis root. cfgFile
// overrides the discovered project config; flags may be nil.
func (l *Loader) Load(root, cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"format":         defaults.Format,
		"severity_gate":  defaults.SeverityGate,
		"file_timeout":   defaults.FileTimeout.String(),
		"grace_period":   defaults.GracePeriod.String(),
		"min_confidence": defaults.MinConfidence,
		"cache_path":     defaults.CachePath,
		"log_level":      defaults.LogLevel,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	configFile := l.findConfigFile(root, cfgFile)
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
		l.logger.Debug("Loaded project config", slog.String("path", configFile))
	} else {
		l.logger.Debug("No project config found", slog.String("root", root))
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile resolves the config file to use. An explicit path wins;
// otherwise the project file is looked up at the analysis root.
func (l *Loader) findConfigFile(root, explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(root, ProjectConfigFile)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
