/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes for transient errors that should be retried.
const (
	sqlstateDeadlockDetected    = "40P01"
	sqlstateSerializationFailed = "40001"
	sqlstateInternalError       = "XX000"
	sqlstateStatementTimeout    = "57014"
	sqlstateForeignKeyViolation = "23503"
)

const (
	defaultCNPGMaxRetryAttempts  = 3
	defaultCNPGDeadlockBackoffMs = 500
	defaultCNPGBaseBackoffMs     = 150
	cnpgMaxRetryAttemptsEnv      = "CNPG_MAX_RETRY_ATTEMPTS"
	cnpgDeadlockBackoffMsEnv     = "CNPG_DEADLOCK_BACKOFF_MS"
)

// classifyCNPGError returns the SQLSTATE of err and whether it is transient.
func classifyCNPGError(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateDeadlockDetected, sqlstateSerializationFailed,
			sqlstateInternalError, sqlstateStatementTimeout:
			return pgErr.Code, true
		}

		return pgErr.Code, false
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "40p01"), strings.Contains(msg, "deadlock detected"):
		return sqlstateDeadlockDetected, true
	case strings.Contains(msg, "40001"), strings.Contains(msg, "could not serialize access"):
		return sqlstateSerializationFailed, true
	case strings.Contains(msg, "xx000"), strings.Contains(msg, "internal error"):
		return sqlstateInternalError, true
	case strings.Contains(msg, "57014"), strings.Contains(msg, "statement timeout"):
		return sqlstateStatementTimeout, true
	default:
		return "", false
	}
}

// cnpgBackoffDelay is exponential in attempt with up to one base of jitter.
// Deadlocks and serialization failures start from a longer base.
func cnpgBackoffDelay(attempt int, sqlstate string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := time.Duration(defaultCNPGBaseBackoffMs) * time.Millisecond

	switch sqlstate {
	case sqlstateDeadlockDetected, sqlstateSerializationFailed:
		base = time.Duration(envPositiveInt(cnpgDeadlockBackoffMsEnv, defaultCNPGDeadlockBackoffMs)) * time.Millisecond
	}

	backoff := base * time.Duration(1<<(attempt-1))

	return backoff + rand.N(base)
}

// withRetry runs op, retrying transient CNPG failures with backoff.
func (s *Store) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	maxAttempts := envPositiveInt(cnpgMaxRetryAttemptsEnv, defaultCNPGMaxRetryAttempts)

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				recordCNPGRetrySuccess(ctx, name)
			}

			return nil
		}

		lastErr = err
		code, transient := classifyCNPGError(err)

		if code != "" {
			recordCNPGError(ctx, name, code)
		}

		if !transient || attempt == maxAttempts {
			break
		}

		delay := cnpgBackoffDelay(attempt, code)

		s.logger.Warn().
			Err(err).
			Str("sqlstate", code).
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("backoff", delay).
			Msg("cnpg transient error, retrying")

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func envPositiveInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
