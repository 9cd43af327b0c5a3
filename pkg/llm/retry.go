package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// retryPolicy retries transient provider failures with doubling backoff.
type retryPolicy struct {
	maxRetries int
	initial    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(maxRetries int) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retryPolicy{maxRetries: maxRetries, initial: initialBackoff, sleep: sleepCtx}
}

func (p retryPolicy) run(ctx context.Context, fn func() error) error {
	backoff := p.initial
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= p.maxRetries || !retryable(err) {
			return err
		}
		logx.WithContext(ctx).Infof("llm: attempt %d failed, retrying in %s: %s", attempt+1, backoff, describe(err))
		if serr := p.sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// describe avoids openai.Error.Error, which dereferences the request and
// response that hand-built errors lack.
func describe(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http %d", apiErr.StatusCode)
	}
	return err.Error()
}
