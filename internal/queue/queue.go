// Package queue implements the Job Queue (C4) retry/backoff policy: given a
// job's error classification, it decides whether to reschedule, convert, or
// block the job, per the table in spec.md §4.4.
package queue

import (
	"fmt"
	"math/rand/v2"
	"time"

	"pdsync/internal/core"
	"pdsync/internal/model"
)

const (
	transientBase = time.Second
	transientCap  = 5 * time.Minute
	transientJitterPct = 0.20

	rateLimitedDefault = 30 * time.Second

	reuploadBase           = time.Second
	reuploadCap            = 2 * time.Minute
	reuploadConvertAtRetry = 2

	clientStateDelay      = 5 * time.Second
	clientStateMaxRetries = 3
)

// Outcome is the disposition Handle chose for a failed job, exposed for
// logging and tests.
type Outcome string

const (
	OutcomeRescheduled Outcome = "RESCHEDULED"
	OutcomeConverted   Outcome = "CONVERTED_DELETE_AND_CREATE"
	OutcomeBlocked     Outcome = "BLOCKED"
)

// Handle applies spec.md §4.4's error classification table to a job that
// just failed. job.NRetries is the count *before* this failure. serverHint
// is a positive Retry-After-style duration when the failure carried one
// (RATE_LIMITED only); pass 0 when absent.
func Handle(store core.Store, clock core.Clock, job *model.SyncJob, class model.ErrorClass, causeErr error, serverHint time.Duration) (Outcome, error) {
	nextRetries := job.NRetries + 1
	lastError := ""
	if causeErr != nil {
		lastError = causeErr.Error()
	}
	now := clock.Now()

	switch class {
	case model.ErrPermanent:
		if err := store.FailJob(job.ID, lastError, nil, true); err != nil {
			return "", err
		}
		return OutcomeBlocked, nil

	case model.ErrClientState:
		if nextRetries >= clientStateMaxRetries {
			if err := store.FailJob(job.ID, lastError, nil, true); err != nil {
				return "", err
			}
			return OutcomeBlocked, nil
		}
		retryAt := now.Add(clientStateDelay)
		if err := store.FailJob(job.ID, lastError, &retryAt, false); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil

	case model.ErrReuploadNeeded:
		if nextRetries >= reuploadConvertAtRetry {
			if err := store.ConvertToDeleteAndCreate(job.ID, now); err != nil {
				return "", err
			}
			return OutcomeConverted, nil
		}
		delay := exponentialBackoff(job.NRetries, reuploadBase, reuploadCap)
		retryAt := now.Add(delay)
		if err := store.FailJob(job.ID, lastError, &retryAt, false); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil

	case model.ErrRateLimited:
		delay := serverHint
		if delay <= 0 {
			delay = rateLimitedDefault
		}
		retryAt := now.Add(delay)
		if err := store.FailJob(job.ID, lastError, &retryAt, false); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil

	case model.ErrTransientNetwork:
		delay := jitter(exponentialBackoff(job.NRetries, transientBase, transientCap), transientJitterPct)
		retryAt := now.Add(delay)
		if err := store.FailJob(job.ID, lastError, &retryAt, false); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil

	default:
		return "", fmt.Errorf("queue: unknown error class %q", class)
	}
}

// exponentialBackoff computes 2^n seconds (n = attempts already made),
// capped at max. Guards against the shift overflowing before the cap does.
func exponentialBackoff(n int, base, max time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 { // 2^30 already dwarfs any cap in this table
		return max
	}
	d := base * time.Duration(uint64(1)<<uint(n))
	if d <= 0 || d > max {
		return max
	}
	return d
}

// jitter applies a uniform ±pct jitter to d.
func jitter(d time.Duration, pct float64) time.Duration {
	if pct <= 0 {
		return d
	}
	spread := float64(d) * pct
	offset := (rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
