// Package config loads the YAML application list from spec.md §6 into
// registry.Spec values, adapted from the teacher's internal/config (same
// viper-based loader shape) switched from TOML to YAML and from the
// teacher's process.Spec fields to this spec's apps schema.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/watchkeeper/warden/internal/registry"
)

// AppConfig is one entry under the top-level "apps" list, using the
// snake_case keys from spec.md §6.
type AppConfig struct {
	Name         string            `mapstructure:"name"`
	Script       string            `mapstructure:"script"`
	Args         []string          `mapstructure:"args"`
	Cwd          string            `mapstructure:"cwd"`
	Env          map[string]string `mapstructure:"env"`
	Instances    any               `mapstructure:"instances"` // int >= 1, or the string "auto"
	Watch        bool              `mapstructure:"watch"`
	WatchIgnore  []string          `mapstructure:"watch_ignore"`
	MemoryLimit  string            `mapstructure:"memory_limit"`
	CPULimit     float64           `mapstructure:"cpu_limit"`
	RestartDelay int               `mapstructure:"restart_delay"` // ms
	MaxRestarts  int               `mapstructure:"max_restarts"`
	HealthCheck  string            `mapstructure:"health_check"`
	LogFormat    string            `mapstructure:"log_format"` // text|json
	LogOutput    string            `mapstructure:"log_output"` // file|stdout
	MetricsPort  int               `mapstructure:"metrics_port"`
}

// FileConfig is the top-level YAML document.
type FileConfig struct {
	Apps []AppConfig `mapstructure:"apps"`
}

var memoryLimitRE = regexp.MustCompile(`(?i)^(\d+(\.\d+)?)\s*(b|kb|mb|gb)$`)

var unitMultiplier = map[string]float64{
	"b": 1, "kb": 1 << 10, "mb": 1 << 20, "gb": 1 << 30,
}

// ParseMemoryLimit converts a "64mb"-style string to bytes.
func ParseMemoryLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	m := memoryLimitRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid memory_limit %q", s)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory_limit %q: %w", s, err)
	}
	return int64(val * unitMultiplier[strings.ToLower(m[3])]), nil
}

// Validate checks app-level constraints spec.md §6 names explicitly.
func (a AppConfig) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("app: name is required")
	}
	if a.Script == "" {
		return fmt.Errorf("app %q: script is required", a.Name)
	}
	if _, err := ParseMemoryLimit(a.MemoryLimit); err != nil {
		return fmt.Errorf("app %q: %w", a.Name, err)
	}
	if a.CPULimit < 0 || a.CPULimit > 100 {
		return fmt.Errorf("app %q: cpu_limit must be within 0-100, got %v", a.Name, a.CPULimit)
	}
	if a.HealthCheck != "" {
		u, err := url.Parse(a.HealthCheck)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("app %q: health_check is not a valid URL: %q", a.Name, a.HealthCheck)
		}
	}
	switch a.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("app %q: log_format must be text or json, got %q", a.Name, a.LogFormat)
	}
	switch a.LogOutput {
	case "", "file", "stdout":
	default:
		return fmt.Errorf("app %q: log_output must be file or stdout, got %q", a.Name, a.LogOutput)
	}
	if a.MetricsPort != 0 && (a.MetricsPort < 1 || a.MetricsPort > 65535) {
		return fmt.Errorf("app %q: metrics_port must be within 1-65535, got %d", a.Name, a.MetricsPort)
	}
	return nil
}

// InstanceCount resolves the instances field to a concrete count. "auto"
// resolves to 1; the CPU count is not consulted.
func (a AppConfig) InstanceCount() (int, error) {
	switch v := a.Instances.(type) {
	case nil:
		return 1, nil
	case int:
		if v < 1 {
			return 0, fmt.Errorf("app %q: instances must be >= 1", a.Name)
		}
		return v, nil
	case string:
		if strings.EqualFold(v, "auto") {
			return 1, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("app %q: invalid instances %q", a.Name, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("app %q: unsupported instances value %v", a.Name, v)
	}
}

// ToSpec converts a validated AppConfig into a registry.Spec.
func (a AppConfig) ToSpec() (registry.Spec, error) {
	memBytes, err := ParseMemoryLimit(a.MemoryLimit)
	if err != nil {
		return registry.Spec{}, err
	}
	instances, err := a.InstanceCount()
	if err != nil {
		return registry.Spec{}, err
	}
	logFormat := a.LogFormat
	if logFormat == "" {
		logFormat = "text"
	}
	logOutput := a.LogOutput
	if logOutput == "" {
		logOutput = "file"
	}
	return registry.Spec{
		Name:         a.Name,
		Script:       a.Script,
		Args:         a.Args,
		Cwd:          a.Cwd,
		Env:          a.Env,
		Instances:    instances,
		Watch:        a.Watch,
		WatchIgnore:  a.WatchIgnore,
		MemoryLimit:  memBytes,
		CPULimit:     a.CPULimit,
		RestartDelay: time.Duration(a.RestartDelay) * time.Millisecond,
		MaxRestarts:  a.MaxRestarts,
		HealthCheck:  a.HealthCheck,
		LogFormat:    logFormat,
		LogOutput:    logOutput,
		MetricsPort:  a.MetricsPort,
	}, nil
}

// Load parses the YAML config file at path into validated specs.
func Load(path string) ([]registry.Spec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	seen := make(map[string]bool, len(fc.Apps))
	specs := make([]registry.Spec, 0, len(fc.Apps))
	for _, app := range fc.Apps {
		if err := app.Validate(); err != nil {
			return nil, err
		}
		if seen[app.Name] {
			return nil, fmt.Errorf("duplicate app name %q", app.Name)
		}
		seen[app.Name] = true
		spec, err := app.ToSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
