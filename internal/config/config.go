package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the ECG inference engine.
// Everything here is immutable for the process lifetime.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Model        ModelConfig        `yaml:"model"`
	Signal       SignalConfig       `yaml:"signal"`
	Demographics DemographicsConfig `yaml:"demographics"`
	Robustness   RobustnessConfig   `yaml:"robustness"`
	Logging      LoggingConfig      `yaml:"logging"`
	Notes        NotesConfig        `yaml:"notes"`
	Results      ResultsConfig      `yaml:"results"`
	Cache        CacheConfig        `yaml:"cache"`
}

// Duration wraps time.Duration so YAML values can be written in the usual
// "10s" / "10m" form; yaml.v3 cannot decode those into time.Duration itself.
type Duration time.Duration

// UnmarshalYAML parses a duration string such as "10s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	MetricsAddress     string   `yaml:"metricsAddress"`
	GracefulTimeout    Duration `yaml:"gracefulTimeout"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
}

// ModelConfig locates the frozen model artifact and declares the class label
// set the engine serves. The artifact's own contract is validated against
// these values at startup.
type ModelConfig struct {
	Path    string   `yaml:"path"`
	Classes []string `yaml:"classes"`
}

// SignalConfig fixes the preprocessing grid. TargetLength is the number of
// samples per lead after resampling; BaselineWindowSeconds sizes the
// moving-average trend removed as baseline wander. These values must match
// the ones the model was trained with.
type SignalConfig struct {
	TargetLength          int     `yaml:"targetLength"`
	TargetSamplingRateHz  float64 `yaml:"targetSamplingRateHz"`
	MinSamplesPerLead     int     `yaml:"minSamplesPerLead"`
	BaselineWindowSeconds float64 `yaml:"baselineWindowSeconds"`
}

// Range bounds a numeric demographic attribute. Values outside are clamped,
// never rejected.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DemographicsConfig fixes the demographic encoding: clamp ranges for
// numeric attributes and versioned vocabularies for categorical ones. Each
// vocabulary's last entry is the reserved "unknown" category.
type DemographicsConfig struct {
	VocabularyVersion string   `yaml:"vocabularyVersion"`
	AgeRange          Range    `yaml:"ageRange"`
	HeartRateRange    Range    `yaml:"heartRateRange"`
	HeightRange       Range    `yaml:"heightRange"`
	WeightRange       Range    `yaml:"weightRange"`
	SexVocabulary     []string `yaml:"sexVocabulary"`
	RhythmVocabulary  []string `yaml:"rhythmVocabulary"`
}

// EncodedLength returns the demographic vector width produced by the
// encoder: four scaled numerics plus the two one-hot blocks.
func (d DemographicsConfig) EncodedLength() int {
	return 4 + len(d.SexVocabulary) + len(d.RhythmVocabulary)
}

// RobustnessConfig enumerates the default perturbation sweep.
type RobustnessConfig struct {
	JitterLevels []float64 `yaml:"jitterLevels"`
	ScaleFactors []float64 `yaml:"scaleFactors"`
	MaxParallel  int       `yaml:"maxParallel"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// NotesConfig controls clinical-note rule-pack loading.
type NotesConfig struct {
	Path string `yaml:"path"`
}

// ResultsConfig locates the precomputed evaluation results directory (model
// card, curated cases, robustness summary).
type ResultsConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls in-process caching of attribution results.
type CacheConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AttributionTTL Duration `yaml:"attributionTTL"`
	MaxEntries     int      `yaml:"maxEntries"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ECG_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:            ":8080",
			MetricsAddress:     ":2112",
			GracefulTimeout:    Duration(10 * time.Second),
			RateLimitPerMinute: 60,
		},
		Model: ModelConfig{
			Path: "artifacts/ecg-fusion.model.json",
			// PTB-XL diagnostic superclasses.
			Classes: []string{"NORM", "MI", "STTC", "CD", "HYP"},
		},
		Signal: SignalConfig{
			// 10 seconds at 100 Hz, the grid the fusion model trains on.
			TargetLength:          1000,
			TargetSamplingRateHz:  100,
			MinSamplesPerLead:     200,
			BaselineWindowSeconds: 0.8,
		},
		Demographics: DemographicsConfig{
			VocabularyVersion: "v1",
			AgeRange:          Range{Min: 0, Max: 120},
			HeartRateRange:    Range{Min: 20, Max: 300},
			HeightRange:       Range{Min: 50, Max: 230},
			WeightRange:       Range{Min: 2, Max: 300},
			SexVocabulary:     []string{"male", "female", "unknown"},
			RhythmVocabulary:  []string{"sr", "afib", "stach", "sbrad", "sarrh", "pace", "unknown"},
		},
		Robustness: RobustnessConfig{
			JitterLevels: []float64{0, 0.05, 0.1, 0.2},
			ScaleFactors: []float64{0.8, 0.9, 1.0, 1.1, 1.2},
			MaxParallel:  4,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Notes:   NotesConfig{Path: "configs/notes/default.yaml"},
		Results: ResultsConfig{Path: "evaluation_results"},
		Cache: CacheConfig{
			Enabled:        true,
			AttributionTTL: Duration(10 * time.Minute),
			MaxEntries:     256,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ECG_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ECG_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ECG_ENGINE_MODEL_PATH"); v != "" {
		cfg.Model.Path = v
	}
	if v := os.Getenv("ECG_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ECG_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ECG_ENGINE_NOTES_PATH"); v != "" {
		cfg.Notes.Path = v
	}
	if v := os.Getenv("ECG_ENGINE_RESULTS_PATH"); v != "" {
		cfg.Results.Path = v
	}
	if v := os.Getenv("ECG_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("ECG_ENGINE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AttributionTTL = Duration(d)
		}
	}
	if v := os.Getenv("ECG_ENGINE_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ECG_ENGINE_ROBUSTNESS_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Robustness.MaxParallel = n
		}
	}
	if v := os.Getenv("ECG_ENGINE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.RateLimitPerMinute = n
		}
	}
}
