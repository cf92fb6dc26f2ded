package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables recognised by ApplyEnvironmentOverrides
const (
	EnvServerAddr        = "BALLISTICS_SERVER_ADDR"
	EnvMaxClients        = "BALLISTICS_MAX_CLIENTS"
	EnvReadTimeout       = "BALLISTICS_READ_TIMEOUT"
	EnvWriteTimeout      = "BALLISTICS_WRITE_TIMEOUT"
	EnvHealthPort        = "BALLISTICS_HEALTH_PORT"
	EnvMaxRequestsPerMin = "BALLISTICS_MAX_REQUESTS_PER_MIN"
	EnvMaxIterations     = "BALLISTICS_MAX_ITERATIONS"
	EnvCacheSize         = "BALLISTICS_SOLUTION_CACHE_SIZE"
	EnvCacheTTL          = "BALLISTICS_SOLUTION_CACHE_TTL"

	EnvCBMaxRequests         = "BALLISTICS_CB_MAX_REQUESTS"
	EnvCBInterval            = "BALLISTICS_CB_INTERVAL"
	EnvCBTimeout             = "BALLISTICS_CB_TIMEOUT"
	EnvCBMaxConsecutiveFails = "BALLISTICS_CB_MAX_CONSECUTIVE_FAILS"

	EnvSolverIterations  = "BALLISTICS_SOLVER_ITERATIONS"
	EnvSolverEpsilonTime = "BALLISTICS_SOLVER_EPSILON_TIME"
	EnvSolverDamping     = "BALLISTICS_SOLVER_DAMPING"
)

// ApplyEnvironmentOverrides replaces config values with any BALLISTICS_*
// environment variables that are set, then validates the result.
func ApplyEnvironmentOverrides(config *Config) error {
	svc := &config.Service
	sol := &config.Solver

	if v := os.Getenv(EnvServerAddr); v != "" {
		svc.ServerAddress = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvMaxClients, &svc.MaxClients},
		{EnvHealthPort, &svc.HealthPort},
		{EnvMaxRequestsPerMin, &svc.MaxRequestsPerMin},
		{EnvMaxIterations, &svc.MaxIterations},
		{EnvCacheSize, &svc.SolutionCacheSize},
		{EnvCBMaxRequests, &svc.CircuitBreakerMaxRequests},
		{EnvCBMaxConsecutiveFails, &svc.CircuitBreakerMaxConsecutiveFails},
		{EnvSolverIterations, &sol.Iterations},
	}
	for _, e := range ints {
		if err := overrideInt(e.name, e.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{EnvReadTimeout, &svc.ReadTimeout},
		{EnvWriteTimeout, &svc.WriteTimeout},
		{EnvCacheTTL, &svc.SolutionCacheTTL},
		{EnvCBInterval, &svc.CircuitBreakerInterval},
		{EnvCBTimeout, &svc.CircuitBreakerTimeout},
	}
	for _, e := range durations {
		if err := overrideDuration(e.name, e.dst); err != nil {
			return err
		}
	}

	if err := overrideFloat(EnvSolverEpsilonTime, &sol.EpsilonTime); err != nil {
		return err
	}
	if err := overrideFloat(EnvSolverDamping, &sol.Damping); err != nil {
		return err
	}

	return config.Validate()
}

// LoadConfigFromEnv returns the default configuration with environment
// overrides applied.
func LoadConfigFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := ApplyEnvironmentOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func overrideFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = f
	return nil
}

func overrideDuration(name string, dst *Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = Duration(d)
	return nil
}
