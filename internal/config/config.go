// Package config provides configuration loading from the isubo config file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is looked up in the working directory when no path is given.
const DefaultFilename = "isubo.conf.yml"

// Push asset modes.
const (
	PushAssetAuto    = "auto"
	PushAssetDisable = "disable"
)

// Reset modes used when a publish attempt is rolled back.
const (
	ResetModeMixed = "mixed"
	ResetModeHard  = "hard"
)

// SourceStatement is appended to every rendered post when enabled.
type SourceStatement struct {
	Enable  bool     `yaml:"enable"`
	Content []string `yaml:"content"`
}

// Config holds configuration for one isubo invocation.
type Config struct {
	Owner      string `yaml:"owner" validate:"required"`
	Repo       string `yaml:"repo" validate:"required"`
	Token      string `yaml:"token" validate:"required"`
	SourceDir  string `yaml:"source_dir" validate:"required"`
	LinkPrefix string `yaml:"link_prefix" validate:"omitempty,url"`
	Branch     string `yaml:"branch"`
	Remote     string `yaml:"remote" validate:"required"`
	APIURL     string `yaml:"api_url" validate:"required,url"`

	PushAsset string `yaml:"push_asset" validate:"oneof=auto disable"`
	ResetMode string `yaml:"reset_mode" validate:"oneof=mixed hard"`

	TOC             bool            `yaml:"-"`
	Back2Top        bool            `yaml:"-"`
	SourceStatement SourceStatement `yaml:"source_statement"`

	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	JobTimeout  time.Duration `yaml:"job_timeout" validate:"gt=0"`
	GitTimeout  time.Duration `yaml:"git_timeout" validate:"gt=0"`
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gt=0"`

	// AbsoluteSourceDir is SourceDir resolved against the config file directory.
	AbsoluteSourceDir string `yaml:"-"`
}

// fileConfig mirrors Config for decoding; toc/back2top default to true so
// they are pointers to tell "absent" from "false".
type fileConfig struct {
	Config   `yaml:",inline"`
	TOC      *bool `yaml:"toc"`
	Back2Top *bool `yaml:"back2top"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the config file at path, applies environment overrides and
// defaults, and validates the result. An empty path means DefaultFilename.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFilename
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFound("config", absPath)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw YAML config; relative source_dir values resolve against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Validation("config", fmt.Sprintf("malformed config: %v", err))
	}

	cfg := raw.Config
	cfg.TOC = raw.TOC == nil || *raw.TOC
	cfg.Back2Top = raw.Back2Top == nil || *raw.Back2Top

	cfg.applyEnv()
	cfg = cfg.withDefaults()

	if cfg.SourceDir != "" {
		dir := cfg.SourceDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		cfg.AbsoluteSourceDir = filepath.Clean(dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if token := GetSecretFile(GetEnv("ISUBO_TOKEN_FILE", "")); token != "" {
		c.Token = token
	}
	c.Token = GetEnv("ISUBO_TOKEN", GetEnv("GITHUB_TOKEN", c.Token))
	c.Concurrency = GetIntEnv("ISUBO_CONCURRENCY", c.Concurrency)
	c.JobTimeout = GetDurationEnv("ISUBO_JOB_TIMEOUT", c.JobTimeout)
	c.APIURL = GetEnv("ISUBO_API_URL", c.APIURL)
	c.TOC = GetBoolEnv("ISUBO_TOC", c.TOC)
	c.Back2Top = GetBoolEnv("ISUBO_BACK2TOP", c.Back2Top)
	if GetBoolEnv("ISUBO_PUSH_ASSET", c.PushAsset != PushAssetDisable) {
		if c.PushAsset == PushAssetDisable {
			c.PushAsset = PushAssetAuto
		}
	} else {
		c.PushAsset = PushAssetDisable
	}
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.github.com"
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.PushAsset == "" {
		c.PushAsset = PushAssetAuto
	}
	if c.ResetMode == "" {
		c.ResetMode = ResetModeMixed
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 6
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Second
	}
	if c.GitTimeout <= 0 {
		c.GitTimeout = 30 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// Validate checks required fields and value ranges.
// The first failing field is reported as an apperrors validation error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return c.validateLinkPrefix()
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := yamlName(fe.StructField())
		return apperrors.Validation(field, fmt.Sprintf("config: %s failed %q check", field, fe.Tag()))
	}
	return apperrors.Validation("config", err.Error())
}

func (c *Config) validateLinkPrefix() error {
	if c.LinkPrefix == "" && filepath.IsAbs(c.SourceDir) {
		return apperrors.Validation("link_prefix", "config: link_prefix is required when source_dir is absolute")
	}
	return nil
}

// PushAssetsEnabled reports whether the asset publisher phase should run.
func (c *Config) PushAssetsEnabled() bool {
	return c.PushAsset != PushAssetDisable
}

// RawLinkPrefix returns the prefix rewritten asset links point at. Without an
// explicit link_prefix it targets raw.githubusercontent.com for the configured
// branch, with source_dir kept as the path under the repository root.
func (c *Config) RawLinkPrefix() string {
	if c.LinkPrefix != "" {
		return strings.TrimRight(c.LinkPrefix, "/")
	}
	branch := c.Branch
	if branch == "" {
		branch = "master"
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s",
		c.Owner, c.Repo, branch, filepath.ToSlash(filepath.Clean(c.SourceDir)))
}

var yamlNames = map[string]string{
	"Owner":       "owner",
	"Repo":        "repo",
	"Token":       "token",
	"SourceDir":   "source_dir",
	"LinkPrefix":  "link_prefix",
	"Remote":      "remote",
	"APIURL":      "api_url",
	"PushAsset":   "push_asset",
	"ResetMode":   "reset_mode",
	"Concurrency": "concurrency",
	"JobTimeout":  "job_timeout",
	"GitTimeout":  "git_timeout",
	"HTTPTimeout": "http_timeout",
}

func yamlName(structField string) string {
	if name, ok := yamlNames[structField]; ok {
		return name
	}
	return strings.ToLower(structField)
}
