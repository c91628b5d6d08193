package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/namecraft/auth-service/internal/infra/config"
)

// Lockout curve shapes.
const (
	LockoutCurveLinear      = "linear"
	LockoutCurveExponential = "exponential"
)

// LockoutPolicy computes progressive lockout deadlines from the consecutive
// failed-login count. Deadlines grow with every failure past the threshold and
// are capped at MaxDuration.
type LockoutPolicy struct {
	Curve        string
	Threshold    int
	BaseDuration time.Duration
	MaxDuration  time.Duration
}

// NewLockoutPolicy builds a policy from configuration, validating the curve name.
func NewLockoutPolicy(cfg config.LockoutSettings) (LockoutPolicy, error) {
	curve := strings.ToLower(strings.TrimSpace(cfg.Curve))
	if curve == "" {
		curve = LockoutCurveExponential
	}
	if curve != LockoutCurveLinear && curve != LockoutCurveExponential {
		return LockoutPolicy{}, fmt.Errorf("unknown lockout curve %q", cfg.Curve)
	}

	policy := LockoutPolicy{
		Curve:        curve,
		Threshold:    cfg.Threshold,
		BaseDuration: cfg.BaseDuration,
		MaxDuration:  cfg.MaxDuration,
	}
	if policy.Threshold <= 0 {
		policy.Threshold = 5
	}
	if policy.BaseDuration <= 0 {
		policy.BaseDuration = time.Minute
	}
	if policy.MaxDuration < policy.BaseDuration {
		policy.MaxDuration = 24 * time.Hour
	}

	return policy, nil
}

// NextDeadline returns the lockout deadline for the supplied failure count, or
// nil when the count is still below the threshold. failures is the count
// including the failure being recorded.
func (p LockoutPolicy) NextDeadline(failures int, now time.Time) *time.Time {
	if failures < p.Threshold {
		return nil
	}

	steps := failures - p.Threshold
	duration := p.BaseDuration

	switch p.Curve {
	case LockoutCurveLinear:
		duration = p.BaseDuration * time.Duration(steps+1)
	default:
		for i := 0; i < steps; i++ {
			duration *= 2
			if duration >= p.MaxDuration {
				break
			}
		}
	}

	if duration > p.MaxDuration {
		duration = p.MaxDuration
	}

	deadline := now.Add(duration)
	return &deadline
}
