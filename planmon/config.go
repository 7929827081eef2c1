package planmon

import "time"

const (
	// DefaultErrorHistorySize caps the error ring buffer.
	DefaultErrorHistorySize = 10

	// identicalErrorStreak is the run of identical error types that signals
	// the current approach is wrong, not merely unlucky.
	identicalErrorStreak = 3
)

// RetryConfig bounds the monitor's recovery budget. Immutable after
// construction.
type RetryConfig struct {
	// MaxSameStepRetries bounds RetrySameStep decisions per plan.
	MaxSameStepRetries int

	// MaxStrategyChanges bounds RetryWithNewStrategy decisions per plan.
	MaxStrategyChanges int

	// MaxReplans bounds ReplanRequested decisions per plan.
	MaxReplans int

	// BaseDelay is the backoff unit before re-invoking the loop.
	BaseDelay time.Duration

	// ExponentialBackoff doubles the delay per retry when set.
	ExponentialBackoff bool

	// ReflectionTriggerFailures is kept for report consumers; reflection
	// scheduling itself belongs to the orchestrator.
	ReflectionTriggerFailures int

	// ReplanTriggerFailures is the failed-attempt count that triggers a
	// replan when replanning is enabled.
	ReplanTriggerFailures int
}

// DefaultRetryConfig returns the standard recovery budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxSameStepRetries:        3,
		MaxStrategyChanges:        2,
		MaxReplans:                2,
		BaseDelay:                 time.Second,
		ExponentialBackoff:        true,
		ReflectionTriggerFailures: 2,
		ReplanTriggerFailures:     3,
	}
}

// Config is the full monitor configuration.
type Config struct {
	Retry RetryConfig

	// MaxReflections is the reflection count past which a plan with no
	// recovery budget left is considered stuck.
	MaxReflections int

	// MaxExecutionTime is the wall-clock ceiling for one plan execution.
	MaxExecutionTime time.Duration

	// MaxTotalRetries is the absolute retry ceiling across all steps.
	MaxTotalRetries int

	// EnableReplanning permits ReplanRequested decisions.
	EnableReplanning bool
}

// DefaultConfig returns the standard monitor configuration.
func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig(),
		MaxReflections:   5,
		MaxExecutionTime: 10 * time.Minute,
		MaxTotalRetries:  10,
		EnableReplanning: true,
	}
}
