// Package planmon decides, after a plan step fails, whether the
// orchestrator should retry the step, change strategy, rebuild the plan, or
// abort. Decisions come from bounded counters and the recent error-pattern
// history; abort states carry full diagnostics for a human operator.
package planmon

import (
	"log/slog"
	"time"
)

// Status is the monitor's continuation decision. Abort states are terminal;
// Retry/StrategyChange/Replan are recoverable and the orchestrator is
// expected to act on them rather than treat them as errors.
type Status string

const (
	StatusRunning              Status = "running"
	StatusRetrySameStep        Status = "retry_same_step"
	StatusRetryWithNewStrategy Status = "retry_with_new_strategy"
	StatusReplanRequested      Status = "replan_requested"
	StatusCompleted            Status = "completed"
	StatusAbortNoProgress      Status = "abort_no_progress"
	StatusAbortTimeLimit       Status = "abort_time_limit"
	StatusAbortMaxRetries      Status = "abort_max_retries_exceeded"
)

// Terminal reports whether the status ends the plan execution.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbortNoProgress, StatusAbortTimeLimit, StatusAbortMaxRetries:
		return true
	}
	return false
}

// Monitor tracks one plan execution. Scoped to a single plan; discard it
// when the plan ends.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time

	startTime           time.Time
	status              Status
	reflectionCount     int
	failedAttempts      int
	sameStepIterations  int
	lastStep            string
	retryCount          int
	strategyChangeCount int
	replanCount         int
	toolCallCount       int

	lastErrorType       string
	identicalStreak     int
	differentErrorCount int
	errorHistory        []string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the logger. Default discards all records.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// withClock overrides the time source for tests.
func withClock(clock func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// NewMonitor creates a monitor for one plan execution.
func NewMonitor(cfg Config, options ...MonitorOption) *Monitor {
	monitor := &Monitor{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		clock:  time.Now,
		status: StatusRunning,
	}

	for _, opt := range options {
		opt(monitor)
	}

	monitor.startTime = monitor.clock()
	return monitor
}

// RecordReflection classifies a step result into a continuation decision.
// The orchestrator calls it whenever a plan step produces a result worth
// evaluating; errorType is empty for a clean result. The first matching
// rule wins.
func (m *Monitor) RecordReflection(currentStep, errorType string) Status {
	m.reflectionCount++

	if currentStep == m.lastStep {
		m.sameStepIterations++
	} else {
		m.lastStep = currentStep
		m.sameStepIterations = 1
	}

	if errorType != "" {
		m.failedAttempts++
		m.recordError(errorType)
	}

	status := m.decide()
	m.status = status

	m.logger.Debug("reflection recorded",
		"step", currentStep,
		"error_type", errorType,
		"status", string(status),
		"reflections", m.reflectionCount,
		"failed_attempts", m.failedAttempts,
		"retries", m.retryCount,
		"strategy_changes", m.strategyChangeCount,
		"replans", m.replanCount,
	)

	return status
}

func (m *Monitor) decide() Status {
	if m.clock().Sub(m.startTime) >= m.cfg.MaxExecutionTime {
		return StatusAbortTimeLimit
	}

	if m.retryCount >= m.cfg.MaxTotalRetries {
		return StatusAbortMaxRetries
	}

	// Recovery rules only apply once something has failed; clean reflections
	// just advance the no-progress ceiling.
	if m.failedAttempts == 0 {
		if m.reflectionCount >= m.cfg.MaxReflections {
			return StatusAbortNoProgress
		}
		return StatusRunning
	}

	if m.cfg.EnableReplanning && m.shouldTriggerReplan() && m.replanCount < m.cfg.Retry.MaxReplans {
		m.replanCount++
		return StatusReplanRequested
	}

	// Strategy changes are counted where detected (recordError), not here.
	if m.strategyChangeCount > 0 && m.strategyChangeCount <= m.cfg.Retry.MaxStrategyChanges {
		return StatusRetryWithNewStrategy
	}

	if m.canRetry() {
		m.retryCount++
		return StatusRetrySameStep
	}

	if m.reflectionCount >= m.cfg.MaxReflections {
		return StatusAbortNoProgress
	}

	return StatusRunning
}

func (m *Monitor) shouldTriggerReplan() bool {
	return m.failedAttempts >= m.cfg.Retry.ReplanTriggerFailures ||
		m.strategyChangeCount >= m.cfg.Retry.MaxStrategyChanges
}

func (m *Monitor) canRetry() bool {
	return m.retryCount < m.cfg.Retry.MaxSameStepRetries &&
		m.replanCount <= m.cfg.Retry.MaxReplans &&
		m.strategyChangeCount <= m.cfg.Retry.MaxStrategyChanges
}

// recordError pushes the error type onto the bounded history and updates
// the streak counters. Three consecutive identical error types count one
// strategy change: a repeating failure signals the current approach is
// wrong, not merely unlucky.
func (m *Monitor) recordError(errorType string) {
	m.errorHistory = append(m.errorHistory, errorType)
	if len(m.errorHistory) > DefaultErrorHistorySize {
		m.errorHistory = m.errorHistory[len(m.errorHistory)-DefaultErrorHistorySize:]
	}

	if errorType == m.lastErrorType {
		m.differentErrorCount = 0
		m.identicalStreak++
		if m.identicalStreak == identicalErrorStreak {
			m.strategyChangeCount++
		}
	} else {
		if m.lastErrorType != "" {
			m.differentErrorCount++
		}
		m.identicalStreak = 1
	}

	m.lastErrorType = errorType
}

// RecordToolCall feeds a tool outcome collected by the orchestrator into
// the failure history without producing a decision.
func (m *Monitor) RecordToolCall(name string, success bool, errorType string) {
	m.toolCallCount++

	if success {
		return
	}

	m.failedAttempts++
	if errorType != "" {
		m.recordError(errorType)
	}

	m.logger.Debug("tool call failed", "tool", name, "error_type", errorType,
		"failed_attempts", m.failedAttempts)
}

// Complete marks the plan as finished successfully.
func (m *Monitor) Complete() {
	m.status = StatusCompleted
}

// Status returns the last decision.
func (m *Monitor) Status() Status {
	return m.status
}

// RetryDelay returns how long the orchestrator should wait before
// re-invoking the loop. The monitor never sleeps itself.
func (m *Monitor) RetryDelay() time.Duration {
	if !m.cfg.Retry.ExponentialBackoff {
		return m.cfg.Retry.BaseDelay
	}
	return m.cfg.Retry.BaseDelay * (1 << m.retryCount)
}

// HealingSuggestion inspects the last three error types and produces an
// operator-facing diagnosis. It never affects the state machine.
func (m *Monitor) HealingSuggestion() string {
	if len(m.errorHistory) < identicalErrorStreak {
		return "Not enough failure history yet; let the current approach run."
	}

	recent := m.errorHistory[len(m.errorHistory)-identicalErrorStreak:]

	allSame, allDifferent := true, true
	seen := map[string]bool{recent[0]: true}
	for _, e := range recent[1:] {
		if e != recent[0] {
			allSame = false
		}
		if seen[e] {
			allDifferent = false
		}
		seen[e] = true
	}

	switch {
	case allSame:
		return "The same error keeps recurring; change strategy instead of retrying the current approach."
	case allDifferent:
		return "Each attempt fails differently; simplify the task into smaller steps."
	default:
		return "Mixed failures; review the recent errors and adjust the plan."
	}
}

// Report returns the full diagnostic counters for logging and telemetry.
// Abort statuses must always be reported with this mapping.
func (m *Monitor) Report() map[string]any {
	unique := map[string]bool{}
	for _, e := range m.errorHistory {
		unique[e] = true
	}

	history := make([]string, len(m.errorHistory))
	copy(history, m.errorHistory)

	return map[string]any{
		"status":                string(m.status),
		"elapsed":               m.clock().Sub(m.startTime).String(),
		"reflection_count":      m.reflectionCount,
		"failed_attempts":       m.failedAttempts,
		"same_step_iterations":  m.sameStepIterations,
		"last_step":             m.lastStep,
		"retry_count":           m.retryCount,
		"strategy_change_count": m.strategyChangeCount,
		"replan_count":          m.replanCount,
		"tool_call_count":       m.toolCallCount,
		"last_error_type":       m.lastErrorType,
		"error_history":         history,
		"error_diversity":       len(unique),
		"healing_suggestion":    m.HealingSuggestion(),
	}
}
