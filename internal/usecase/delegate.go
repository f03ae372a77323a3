package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"insurance-agent/internal/domain"
)

const defaultCallTimeout = 8 * time.Second

// Generator is the delegated language-model capability.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

// delegate pairs a Generator with a timeout. Every failure it reports is an
// ErrorUpstream; callers choose a deterministic fallback instead of
// propagating it.
type delegate struct {
	gen     Generator
	timeout time.Duration
}

type generation struct {
	text string
	err  error
}

// call runs one delegated completion. A call still running when the timeout
// expires is abandoned.
func (d delegate) call(ctx context.Context, purpose string, req domain.GenerateRequest) (string, error) {
	if d.gen == nil {
		return "", newError(ErrorUpstream, purpose+"_no_generator", nil)
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan generation, 1)
	go func() {
		text, err := d.gen.Generate(ctx, req)
		done <- generation{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", newError(ErrorUpstream, purpose+"_timeout", ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return "", newError(ErrorUpstream, purpose+"_timeout", res.err)
			}
			return "", newError(ErrorUpstream, purpose+"_call_failed", res.err)
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			return "", newError(ErrorUpstream, purpose+"_empty_response", nil)
		}
		return text, nil
	}
}

// textOr returns the delegated text, or fallback() when the call fails.
func (d delegate) textOr(ctx context.Context, purpose string, req domain.GenerateRequest, fallback func() string) string {
	text, err := d.call(ctx, purpose, req)
	if err != nil {
		logFallback(ctx, purpose, err)
		return fallback()
	}
	return text
}

// logFallback logs a swallowed failure. Running without a model is a
// configuration choice, not a failure, so it only logs at debug.
func logFallback(ctx context.Context, purpose string, err error) {
	level := slog.LevelWarn
	var ue *Error
	if errors.As(err, &ue) && ue.Reason == purpose+"_no_generator" {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "delegated call failed, using fallback", "purpose", purpose, "err", err)
}
