package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"testbed/pkg/logging"
)

const (
	// FileName is the configuration file looked up in a config directory.
	FileName = "testbed.yaml"
	// DirEnvVar overrides the default configuration directory.
	DirEnvVar = "TESTBED_CONFIG_DIR"
)

// osEnviron is swapped in tests.
var osEnviron = os.Environ

// DefaultDir returns $TESTBED_CONFIG_DIR, or the working directory.
func DefaultDir() string {
	if dir := os.Getenv(DirEnvVar); dir != "" {
		return dir
	}
	return "."
}

// Load reads testbed.yaml from dir on top of the defaults. A missing file
// yields the defaults. The document is validated against the embedded
// schema before it is decoded.
func Load(dir string) (Config, error) {
	cfg := Default()
	cfg.Dir = dir
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No %s found at %s, using defaults", FileName, path)
			cfg.Env = environment(nil)
			return cfg, nil
		}
		return Config{}, newError(path, ErrorTypeIO, "", "cannot read configuration", err.Error())
	}
	return parse(cfg, path, data)
}

// Parse decodes a configuration document as if it was read from dir.
func Parse(dir string, data []byte) (Config, error) {
	cfg := Default()
	cfg.Dir = dir
	return parse(cfg, filepath.Join(dir, FileName), data)
}

func parse(cfg Config, path string, data []byte) (Config, error) {
	errs := &ConfigurationErrorCollection{}
	for _, ce := range validateSchema(path, data) {
		errs.Add(ce)
	}
	if errs.HasErrors() {
		return Config{}, errs.orNil()
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		ce := newError(path, ErrorTypeParse, "", "malformed configuration", err.Error())
		var te *yaml.TypeError
		if errors.As(err, &te) {
			ce.Suggestions = []string{"Check the value types against \"testbed config schema\""}
		}
		return Config{}, ce
	}

	if err := Validate(cfg); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			for _, ve := range verrs {
				ce := newError(path, ErrorTypeValidation, ve.Field, ve.Message, "")
				ce.Suggestions = fieldSuggestions[strings.SplitN(ve.Field, ".", 2)[0]]
				errs.Add(ce)
			}
		} else {
			errs.Add(newError(path, ErrorTypeValidation, "", err.Error(), ""))
		}
		return Config{}, errs.orNil()
	}

	var fileEnv map[string]string
	if cfg.EnvFile != "" {
		envPath := cfg.EnvFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(cfg.Dir, envPath)
		}
		env, err := godotenv.Read(envPath)
		if err != nil {
			ce := newError(path, ErrorTypeEnv, "envFile", fmt.Sprintf("cannot read env file %s", envPath), err.Error())
			ce.Suggestions = fieldSuggestions["envFile"]
			return Config{}, ce
		}
		fileEnv = env
	}
	cfg.Env = environment(fileEnv)

	for name, props := range cfg.Resources {
		for k, v := range props {
			props[k] = expand(v, cfg.Env)
		}
		cfg.Resources[name] = props
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return cfg, nil
}

// environment overlays the process environment on the env file, so
// variables exported by the caller win.
func environment(file map[string]string) map[string]string {
	env := make(map[string]string, len(file))
	for k, v := range file {
		env[k] = v
	}
	for _, kv := range osEnviron() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// expand replaces ${VAR} and $VAR. Unknown variables are left as written.
func expand(s string, env map[string]string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := env[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

func fileNameOf(path string) string {
	return filepath.Base(path)
}
