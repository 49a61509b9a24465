// Package config loads docpatch settings from defaults, an optional
// .docpatch.yaml file, a .env file and the environment, in increasing order
// of precedence. Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up in the root.
const FileName = ".docpatch.yaml"

// Environment variables read by Load.
const (
	EnvAPIKey  = "OPENAI_API_KEY"
	EnvBaseURL = "OPENAI_BASE_URL"
	EnvModel   = "DOCPATCH_MODEL"
)

// Config holds the settings for a run.
type Config struct {
	Model             string  `yaml:"model" validate:"required"`
	DocStyle          string  `yaml:"doc_style" validate:"required,alpha"`
	Concurrency       int     `yaml:"concurrency" validate:"gte=1,lte=64"`
	RequestsPerMinute int     `yaml:"requests_per_minute" validate:"gte=0"`
	MaxFileSize       int64   `yaml:"max_file_size" validate:"gte=0"` // 0 means no limit
	Temperature       float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`

	// APIKey is never read from the YAML file.
	APIKey string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Model:             "gpt-4.1",
		DocStyle:          "numpy",
		Concurrency:       4,
		RequestsPerMinute: 60,
		MaxFileSize:       1_000_000,
	}
}

var validate = validator.New()

// Validate checks c for out-of-range or malformed settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load builds the configuration for the project at root. lookupEnv is
// usually os.LookupEnv. The result is not validated, so that flags can be
// applied before calling Validate.
func Load(root string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if err := loadFile(filepath.Join(root, FileName), &cfg); err != nil {
		return Config{}, err
	}

	dotenv, err := godotenv.Read(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading .env: %w", err)
	}

	get := func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}

	if v, ok := get(EnvAPIKey); ok {
		cfg.APIKey = v
	}
	if v, ok := get(EnvBaseURL); ok {
		cfg.BaseURL = v
	}
	if v, ok := get(EnvModel); ok {
		cfg.Model = v
	}
	if v, ok := get("DOCPATCH_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("DOCPATCH_CONCURRENCY: %w", err)
		}
		cfg.Concurrency = n
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", FileName, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", FileName, err)
	}
	return nil
}
