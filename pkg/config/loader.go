package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/spectrumhq/spectrum/pkg/errors"
)

var envVarRe = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads a YAML file over cfg and validates the result. ${VAR} references
// are substituted from the environment before parsing; fields absent from the
// file keep their current values, so loading over Default() always yields a
// complete configuration.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the --config flag
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInvalidConfig, "failed to read config file").WithPath(path)
	}

	expanded := envVarRe.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInvalidConfig, "malformed config file").WithPath(path)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInvalidConfig, "invalid configuration").WithPath(path)
	}
	return nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal configuration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write config file").WithPath(path)
	}
	return nil
}
