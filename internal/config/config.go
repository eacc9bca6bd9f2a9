// Package config holds all configuration for the heatmap generator:
// matrix selection, scoring, filtering, caching, and data-source settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MatrixType identifies an ATT&CK matrix.
type MatrixType string

const (
	MatrixEnterprise MatrixType = "enterprise-attack"
	MatrixMobile     MatrixType = "mobile-attack"
	MatrixICS        MatrixType = "ics-attack"
)

// Valid reports whether the matrix type is one of the supported matrices.
func (m MatrixType) Valid() bool {
	switch m {
	case MatrixEnterprise, MatrixMobile, MatrixICS:
		return true
	}
	return false
}

// Algorithm selects how raw technique counts become scores.
type Algorithm string

const (
	AlgorithmLinear      Algorithm = "linear"
	AlgorithmLogarithmic Algorithm = "logarithmic"
	AlgorithmWeighted    Algorithm = "weighted"
	AlgorithmNormalized  Algorithm = "normalized"
)

// ColorScheme names a gradient used in the Navigator layer output.
type ColorScheme string

const (
	SchemeRedYellowGreen ColorScheme = "red_yellow_green"
	SchemeBlueWhiteRed   ColorScheme = "blue_white_red"
	SchemeViridis        ColorScheme = "viridis"
	SchemePlasma         ColorScheme = "plasma"
)

// Gradient is a three-stop color gradient.
type Gradient struct {
	MinColor string
	MidColor string
	MaxColor string
}

// Gradients maps every supported color scheme to its gradient.
var Gradients = map[ColorScheme]Gradient{
	SchemeRedYellowGreen: {MinColor: "#ff6666", MidColor: "#ffff66", MaxColor: "#66ff66"},
	SchemeBlueWhiteRed:   {MinColor: "#0066cc", MidColor: "#ffffff", MaxColor: "#cc0000"},
	SchemeViridis:        {MinColor: "#440154", MidColor: "#21918c", MaxColor: "#fde724"},
	SchemePlasma:         {MinColor: "#0d0887", MidColor: "#cc4778", MaxColor: "#f0f921"},
}

// PlatformMappings resolves a user-facing platform key to the canonical
// platform names that appear in technique records. The "cloud" key fans out
// to the individual cloud product matrices.
var PlatformMappings = map[string][]string{
	"windows":    {"Windows"},
	"linux":      {"Linux"},
	"macos":      {"macOS"},
	"network":    {"Network"},
	"cloud":      {"Azure AD", "Office 365", "SaaS", "IaaS", "Google Workspace"},
	"containers": {"Containers"},
}

// Rules bounds the inputs the validator accepts.
type Rules struct {
	MaxSearchTerms  int   `yaml:"max_search_terms"`
	MaxTechniqueIDs int   `yaml:"max_technique_ids"`
	MaxFileSizeMB   int64 `yaml:"max_file_size_mb"`
	MinThreshold    int   `yaml:"min_threshold"`
	MaxThreshold    int   `yaml:"max_threshold"`
}

// CacheConfig controls the on-disk corpus cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
}

// UnmarshalYAML layers file values over the existing (default) values.
// Durations are given as strings like "24h".
func (c *CacheConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
		TTL     string `yaml:"ttl"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		c.Enabled = *raw.Enabled
	}
	if raw.Dir != "" {
		c.Dir = raw.Dir
	}
	if raw.TTL != "" {
		ttl, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("invalid cache ttl: %w", err)
		}
		c.TTL = ttl
	}
	return nil
}

// SourceConfig holds the remote STIX source URLs and retry policy.
type SourceConfig struct {
	EnterpriseURL string        `yaml:"enterprise_url"`
	MobileURL     string        `yaml:"mobile_url"`
	ICSURL        string        `yaml:"ics_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// UnmarshalYAML layers file values over the existing (default) values.
func (s *SourceConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		EnterpriseURL string `yaml:"enterprise_url"`
		MobileURL     string `yaml:"mobile_url"`
		ICSURL        string `yaml:"ics_url"`
		Timeout       string `yaml:"timeout"`
		RetryAttempts *int   `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.EnterpriseURL != "" {
		s.EnterpriseURL = raw.EnterpriseURL
	}
	if raw.MobileURL != "" {
		s.MobileURL = raw.MobileURL
	}
	if raw.ICSURL != "" {
		s.ICSURL = raw.ICSURL
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid source timeout: %w", err)
		}
		s.Timeout = d
	}
	if raw.RetryAttempts != nil {
		s.RetryAttempts = *raw.RetryAttempts
	}
	if raw.RetryDelay != "" {
		d, err := time.ParseDuration(raw.RetryDelay)
		if err != nil {
			return fmt.Errorf("invalid source retry delay: %w", err)
		}
		s.RetryDelay = d
	}
	return nil
}

// URLFor returns the configured source URL for a matrix, or "" if unmapped.
func (s SourceConfig) URLFor(matrix MatrixType) string {
	switch matrix {
	case MatrixEnterprise:
		return s.EnterpriseURL
	case MatrixMobile:
		return s.MobileURL
	case MatrixICS:
		return s.ICSURL
	}
	return ""
}

// Config is the top-level configuration for a generation run.
type Config struct {
	Matrix             MatrixType         `yaml:"matrix"`
	Scoring            Algorithm          `yaml:"scoring"`
	CustomWeights      map[string]float64 `yaml:"custom_weights"`
	ColorScheme        ColorScheme        `yaml:"color_scheme"`
	Threshold          int                `yaml:"threshold"`
	MergeSubtechniques bool               `yaml:"merge_subtechniques"`
	Platforms          []string           `yaml:"platforms"`
	Title              string             `yaml:"title"`
	Description        string             `yaml:"description"`

	Rules  Rules        `yaml:"rules"`
	Cache  CacheConfig  `yaml:"cache"`
	Source SourceConfig `yaml:"source"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Matrix:             MatrixEnterprise,
		Scoring:            AlgorithmLinear,
		ColorScheme:        SchemeRedYellowGreen,
		Threshold:          0,
		MergeSubtechniques: true,
		Title:              "MITRE ATT&CK Heatmap",
		Rules: Rules{
			MaxSearchTerms:  50,
			MaxTechniqueIDs: 1000,
			MaxFileSizeMB:   100,
			MinThreshold:    0,
			MaxThreshold:    1000,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     filepath.Join(home, ".attackmap_cache"),
			TTL:     24 * time.Hour,
		},
		Source: SourceConfig{
			EnterpriseURL: "https://raw.githubusercontent.com/mitre-attack/attack-stix-data/master/enterprise-attack/enterprise-attack.json",
			MobileURL:     "https://raw.githubusercontent.com/mitre-attack/attack-stix-data/master/mobile-attack/mobile-attack.json",
			ICSURL:        "https://raw.githubusercontent.com/mitre-attack/attack-stix-data/master/ics-attack/ics-attack.json",
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
	}
}

// Load reads a YAML config file layered over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}
