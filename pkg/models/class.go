package models

// ErrorClass is the retry-relevant category assigned to a failed attempt.
type ErrorClass string

const (
	ClassUsageLimit ErrorClass = "USAGE_LIMIT"
	ClassRateLimit  ErrorClass = "RATE_LIMIT"
	ClassTimeout    ErrorClass = "TIMEOUT"
	ClassFatal      ErrorClass = "FATAL"
	ClassTransient  ErrorClass = "TRANSIENT"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Classification annotates a raw error with its category. It is derived on
// demand and never persisted independently of the outcome it annotates.
type Classification struct {
	Class     ErrorClass `json:"class"`
	Retryable bool       `json:"retryable"`
	Severity  Severity   `json:"severity"`
}
