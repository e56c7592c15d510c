package mediaserver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"jellyward/types"
)

const (
	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
)

// Retry runs fn with bounded exponential backoff. Media server calls are
// the only network dependency besides Telegram itself, and a transient blip
// should not fail an admin's approval tap. Exhaustion surfaces as
// ErrCollaborator.
func Retry(ctx context.Context, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("op", op).Msg("media server call failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCollaborator, op, err)
	}
	return nil
}
