package reclaim

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cloudreap/cloudreap/pkg/config"
)

// transientCodes are API error codes worth retrying. Everything else fails
// the candidate immediately.
var transientCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
	"TooManyRequestsException":  true,
	"ServiceUnavailable":        true,
	"InternalError":             true,
	"InternalFailure":           true,
}

// IsTransient reports whether an API error is a throttle or a transient
// service fault.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}
	return false
}

// IsThrottle reports whether an error is specifically a rate-limit signal.
// The worker pool uses this to scale concurrency down.
func IsThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "Throttling" || code == "ThrottlingException" ||
			code == "RequestLimitExceeded" || code == "RequestThrottled" ||
			code == "RequestThrottledException" || code == "TooManyRequestsException"
	}
	return false
}

// withRetry runs fn up to cfg.MaxAttempts times, backing off exponentially
// between transient failures. Non-transient errors abort immediately.
// Returns the attempt count alongside the final error.
func withRetry(ctx context.Context, cfg config.RetryConfig, fn func() error) (int, error) {
	backoff := cfg.BaseBackoff
	var err error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return attempt, nil
		}
		if !IsTransient(err) || attempt == cfg.MaxAttempts {
			return attempt, err
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return cfg.MaxAttempts, err
}
