// Package validation checks aim requests arriving over the network before
// they reach the solver.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// Message size and content limits
const (
	MaxMessageSize    = 64 * 1024 // 64KB max message
	MaxMessagesPerMin = 600
	MaxIterations     = 100
	MaxCoordinate     = 1e12
)

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// ErrRateLimited is returned when a client exceeds its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// MessageValidator provides validation for raw frames and request fields
type MessageValidator struct {
	rateLimiter       *RateLimiter
	maxMessagesPerMin int
	maxIterations     int
}

// NewMessageValidator creates a new message validator with the default limits
func NewMessageValidator() *MessageValidator {
	return NewMessageValidatorWithLimits(MaxMessagesPerMin, MaxIterations)
}

// NewMessageValidatorWithLimits creates a validator allowing
// maxMessagesPerMin frames per client per minute and at most maxIterations
// moving-target iterations per request.
func NewMessageValidatorWithLimits(maxMessagesPerMin, maxIterations int) *MessageValidator {
	return &MessageValidator{
		rateLimiter:       NewRateLimiter(maxMessagesPerMin, time.Minute),
		maxMessagesPerMin: maxMessagesPerMin,
		maxIterations:     maxIterations,
	}
}

// Close releases resources used by the message validator
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// ValidateMessage validates a raw message against size and format constraints
func (v *MessageValidator) ValidateMessage(data []byte, clientID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: message too large: %d bytes (max %d)", ErrInvalidRequest, len(data), MaxMessageSize)
	}

	if !json.Valid(data) {
		return fmt.Errorf("%w: invalid JSON format", ErrInvalidRequest)
	}

	if !v.rateLimiter.Allow(clientID) {
		return fmt.Errorf("%w: max %d messages per minute", ErrRateLimited, v.maxMessagesPerMin)
	}

	return nil
}

// ValidateIterations accepts nil (use the server default) or a budget up to
// the validator's cap. Non-positive budgets are accepted here; the solver
// replaces them with its fallback and logs a warning.
func (v *MessageValidator) ValidateIterations(iterations *int) error {
	if iterations == nil {
		return nil
	}
	if *iterations > v.maxIterations {
		return fmt.Errorf("%w: iterations %d exceeds limit %d", ErrInvalidRequest, *iterations, v.maxIterations)
	}
	return nil
}

// ValidateVector rejects NaN, infinite and absurdly large components.
func ValidateVector(name string, vec physics.Vector3) error {
	for _, c := range []float64{vec.X, vec.Y, vec.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidRequest, name, vec)
		}
		if math.Abs(c) > MaxCoordinate {
			return fmt.Errorf("%w: %s component out of range: %v", ErrInvalidRequest, name, c)
		}
	}
	return nil
}

// ValidateSpeed rejects non-finite speeds. Negative speeds are allowed and
// treated as their magnitude by the solver.
func ValidateSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("%w: speed must be finite, got %v", ErrInvalidRequest, speed)
	}
	if math.Abs(speed) > MaxCoordinate {
		return fmt.Errorf("%w: speed out of range: %v", ErrInvalidRequest, speed)
	}
	return nil
}

// ValidateEpsilonTime accepts nil or a finite non-negative tolerance.
func ValidateEpsilonTime(epsilon *float64) error {
	if epsilon == nil {
		return nil
	}
	if math.IsNaN(*epsilon) || math.IsInf(*epsilon, 0) || *epsilon < 0 {
		return fmt.Errorf("%w: epsilonTime must be finite and non-negative, got %v", ErrInvalidRequest, *epsilon)
	}
	return nil
}
