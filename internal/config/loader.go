package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads RequestedSettings from, in priority order: environment
// variables, a config.yaml file, then the built-in defaults.
func Load() (*RequestedSettings, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/loadgen/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("LOADGEN")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var rs RequestedSettings
	if err := v.Unmarshal(&rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateShape(&rs); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &rs, nil
}

// overrideWithEnvVars explicitly handles a handful of operator-facing
// environment variables that don't map cleanly onto viper's automatic
// dotted-key replacement (list-valued and scenario-selection knobs).
func overrideWithEnvVars(v *viper.Viper) {
	if scenario := os.Getenv("LOADGEN_SCENARIO"); scenario != "" {
		v.Set("scenario", scenario)
	}

	if mode := os.Getenv("LOADGEN_MODE"); mode != "" {
		v.Set("mode", mode)
	}

	if nodes := os.Getenv("LOADGEN_REDIS_NODES"); nodes != "" {
		parts := strings.Split(nodes, ",")
		for i, n := range parts {
			parts[i] = strings.TrimSpace(n)
		}
		v.Set("redis.nodes", parts)
		v.Set("redis.enabled", true)
	}

	if lvl := os.Getenv("LOADGEN_LOG_LEVEL"); lvl != "" {
		v.Set("log_level", lvl)
	}

	if addr := os.Getenv("LOADGEN_DASHBOARD_ADDR"); addr != "" {
		v.Set("dashboard.addr", addr)
		v.Set("dashboard.enabled", true)
	}
}

// validateShape checks only the things a config loader can check without
// knowing the derivation rules — well-formedness, not self-consistency.
// Self-consistency (e.g. performance_issue_same && performance_issue_unique)
// is the settings resolver's job (internal/settings) and is fatal there,
// not here: a malformed *value* is a loader error, a self-contradictory
// *pair of flags* is an invariant violation the resolver must reject.
func validateShape(rs *RequestedSettings) error {
	switch rs.Scenario {
	case ScenarioSingleStream, ScenarioMultiStream, ScenarioMultiStreamFree, ScenarioServer, ScenarioOffline:
	default:
		return fmt.Errorf("unknown scenario: %q", rs.Scenario)
	}

	switch rs.Mode {
	case ModeSubmission, ModeAccuracyOnly, ModePerformanceOnly, ModeFindPeakPerformance:
	default:
		return fmt.Errorf("unknown mode: %q", rs.Mode)
	}

	if rs.LogLevel != "" {
		switch rs.LogLevel {
		case "debug", "info", "warn", "error", "fatal":
		default:
			return fmt.Errorf("invalid log level: %s", rs.LogLevel)
		}
	}

	if rs.MinDuration < 0 || rs.MaxDuration < 0 {
		return fmt.Errorf("durations must not be negative")
	}

	return nil
}
