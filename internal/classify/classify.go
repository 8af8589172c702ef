// Package classify maps raw attempt failures to retry-relevant categories.
//
// Classification is pure and total: every error lands in exactly one of the
// five categories, matched in a fixed priority order. Unmatched errors
// default to TRANSIENT-and-retryable; TIMEOUT and FATAL are never retried.
// The pattern lists are data so new phrasings can be added without touching
// control flow.
package classify

import (
	"strings"

	"github.com/ldi/nightshift/pkg/models"
)

// Pattern sets, matched case-insensitively against the error text.
// Category priority is usage-limit, rate-limit, timeout, fatal, transient;
// the first category with a matching pattern wins.
var (
	usageLimitPatterns = []string{
		"usage limit",
		"usage_limit",
		"quota exceeded",
		"monthly limit",
		"credit balance",
		"limit will reset",
	}

	rateLimitPatterns = []string{
		"rate limit",
		"rate_limit",
		"429",
		"too many requests",
		"overloaded",
		"throttl",
	}

	timeoutPatterns = []string{
		"timed out",
		"timeout",
		"deadline exceeded",
		"context deadline",
	}

	fatalPatterns = []string{
		"authentication failed",
		"invalid api key",
		"unauthorized",
		"permission denied",
		"no space left on device",
		"out of memory",
		"cannot allocate memory",
		"repository not found",
		"not a git repository",
		"executable file not found",
	}

	// sessionEndingPatterns is the small fixed set of failures that make
	// continuing with the remaining tasks pointless.
	sessionEndingPatterns = []string{
		"no space left on device",
		"out of memory",
		"cannot allocate memory",
		"repository not found",
		"not a git repository",
		"authentication failed",
		"invalid api key",
	}
)

// Classify assigns the retry-relevant category to err.
func Classify(err error) models.Classification {
	if err == nil {
		return models.Classification{Class: models.ClassTransient, Retryable: true, Severity: models.SeverityWarning}
	}
	msg := strings.ToLower(err.Error())

	switch {
	case matchesAny(msg, usageLimitPatterns):
		return models.Classification{Class: models.ClassUsageLimit, Retryable: true, Severity: models.SeverityWarning}
	case matchesAny(msg, rateLimitPatterns):
		return models.Classification{Class: models.ClassRateLimit, Retryable: true, Severity: models.SeverityWarning}
	case matchesAny(msg, timeoutPatterns):
		return models.Classification{Class: models.ClassTimeout, Retryable: false, Severity: models.SeverityError}
	case matchesAny(msg, fatalPatterns):
		return models.Classification{Class: models.ClassFatal, Retryable: false, Severity: models.SeverityCritical}
	default:
		return models.Classification{Class: models.ClassTransient, Retryable: true, Severity: models.SeverityWarning}
	}
}

// IsSessionEnding reports whether err matches a failure that should
// terminate the whole session rather than just the current task.
func IsSessionEnding(err error) bool {
	if err == nil {
		return false
	}
	return matchesAny(strings.ToLower(err.Error()), sessionEndingPatterns)
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
