// pkg/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Config contains configuration for the solver and the aim service
type Config struct {
	Solver  SolverConfig  `json:"solver"`
	Service ServiceConfig `json:"service"`
}

// SolverConfig contains the numerical tolerances and iteration controls of
// the ballistic solver.
type SolverConfig struct {
	// VectorTolerance is the per-component bound under which a vector
	// counts as zero (coincident points, zero gravity, stationary target).
	VectorTolerance float64 `json:"vectorTolerance"`
	// ScalarTolerance is the bound under which the launch speed counts as zero.
	ScalarTolerance float64 `json:"scalarTolerance"`
	// NormalizeTolerance is the squared length under which the in-plane
	// front axis cannot be normalized.
	NormalizeTolerance float64 `json:"normalizeTolerance"`
	// Damping weights the newly solved flight time against the previous
	// estimate in each moving-target iteration.
	Damping                   float64 `json:"damping"`
	Iterations                int     `json:"iterations"`
	InvalidIterationsFallback int     `json:"invalidIterationsFallback"`
	EpsilonTime               float64 `json:"epsilonTime"`
}

// ServiceConfig contains network-related configuration of the aim service
type ServiceConfig struct {
	ServerAddress     string   `json:"serverAddress"`
	MaxClients        int      `json:"maxClients"`
	ReadTimeout       Duration `json:"readTimeout"`
	WriteTimeout      Duration `json:"writeTimeout"`
	HealthPort        int      `json:"healthPort"`
	MaxRequestsPerMin int      `json:"maxRequestsPerMin"`
	// MaxIterations caps the iteration budget a remote caller may request.
	MaxIterations int `json:"maxIterations"`
	// SolutionCacheSize bounds the server's cache of static solutions;
	// zero disables it. Entries expire after SolutionCacheTTL.
	SolutionCacheSize int      `json:"solutionCacheSize"`
	SolutionCacheTTL  Duration `json:"solutionCacheTTL"`

	CircuitBreakerMaxRequests         int      `json:"circuitBreakerMaxRequests"`
	CircuitBreakerInterval            Duration `json:"circuitBreakerInterval"`
	CircuitBreakerTimeout             Duration `json:"circuitBreakerTimeout"`
	CircuitBreakerMaxConsecutiveFails int      `json:"circuitBreakerMaxConsecutiveFails"`
}

// Duration is a time.Duration that reads and writes as a string such as "30s".
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoadConfig loads a configuration from a file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultSolverConfig returns the solver settings used when nothing else is
// configured.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		VectorTolerance:           1e-4,
		ScalarTolerance:           1e-8,
		NormalizeTolerance:        1e-8,
		Damping:                   0.8,
		Iterations:                5,
		InvalidIterationsFallback: 10,
		EpsilonTime:               0.01,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Solver: DefaultSolverConfig(),
		Service: ServiceConfig{
			ServerAddress:                     "localhost:4570",
			MaxClients:                        32,
			ReadTimeout:                       Duration(30 * time.Second),
			WriteTimeout:                      Duration(30 * time.Second),
			HealthPort:                        8080,
			MaxRequestsPerMin:                 600,
			MaxIterations:                     100,
			SolutionCacheSize:                 1024,
			SolutionCacheTTL:                  Duration(time.Minute),
			CircuitBreakerMaxRequests:         3,
			CircuitBreakerInterval:            Duration(60 * time.Second),
			CircuitBreakerTimeout:             Duration(30 * time.Second),
			CircuitBreakerMaxConsecutiveFails: 5,
		},
	}
}

// ErrInvalidConfig is wrapped by every error returned from Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// Validate checks the solver section
func (c SolverConfig) Validate() error {
	switch {
	case c.VectorTolerance < 0:
		return invalid("VectorTolerance", "must not be negative, got %g", c.VectorTolerance)
	case c.ScalarTolerance < 0:
		return invalid("ScalarTolerance", "must not be negative, got %g", c.ScalarTolerance)
	case c.NormalizeTolerance < 0:
		return invalid("NormalizeTolerance", "must not be negative, got %g", c.NormalizeTolerance)
	case c.Damping <= 0 || c.Damping > 1:
		return invalid("Damping", "must be in (0, 1], got %g", c.Damping)
	case c.Iterations <= 0:
		return invalid("Iterations", "must be positive, got %d", c.Iterations)
	case c.InvalidIterationsFallback <= 0:
		return invalid("InvalidIterationsFallback", "must be positive, got %d", c.InvalidIterationsFallback)
	case c.EpsilonTime < 0:
		return invalid("EpsilonTime", "must not be negative, got %g", c.EpsilonTime)
	}
	return nil
}

// Validate checks the service section
func (c ServiceConfig) Validate() error {
	switch {
	case c.ServerAddress == "":
		return invalid("ServerAddress", "must not be empty")
	case c.MaxClients < 1 || c.MaxClients > 10000:
		return invalid("MaxClients", "must be between 1 and 10000, got %d", c.MaxClients)
	case c.ReadTimeout <= 0:
		return invalid("ReadTimeout", "must be positive, got %v", c.ReadTimeout.Std())
	case c.WriteTimeout <= 0:
		return invalid("WriteTimeout", "must be positive, got %v", c.WriteTimeout.Std())
	case c.HealthPort < 0 || c.HealthPort > 65535:
		return invalid("HealthPort", "must be between 0 and 65535, got %d", c.HealthPort)
	case c.MaxRequestsPerMin < 1:
		return invalid("MaxRequestsPerMin", "must be positive, got %d", c.MaxRequestsPerMin)
	case c.MaxIterations < 1:
		return invalid("MaxIterations", "must be positive, got %d", c.MaxIterations)
	case c.SolutionCacheSize < 0:
		return invalid("SolutionCacheSize", "must not be negative, got %d", c.SolutionCacheSize)
	case c.SolutionCacheSize > 0 && c.SolutionCacheTTL <= 0:
		return invalid("SolutionCacheTTL", "must be positive when the cache is enabled, got %v", c.SolutionCacheTTL.Std())
	case c.CircuitBreakerMaxRequests < 1:
		return invalid("CircuitBreakerMaxRequests", "must be positive, got %d", c.CircuitBreakerMaxRequests)
	case c.CircuitBreakerTimeout <= 0:
		return invalid("CircuitBreakerTimeout", "must be positive, got %v", c.CircuitBreakerTimeout.Std())
	case c.CircuitBreakerInterval < 0:
		return invalid("CircuitBreakerInterval", "must not be negative, got %v", c.CircuitBreakerInterval.Std())
	case c.CircuitBreakerMaxConsecutiveFails < 1:
		return invalid("CircuitBreakerMaxConsecutiveFails", "must be positive, got %d", c.CircuitBreakerMaxConsecutiveFails)
	}
	return nil
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}
