package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"insurance-agent/internal/usecase"
)

// Cleaner runs the idle-conversation sweep.
type Cleaner interface {
	Cleanup(ctx context.Context) (usecase.CleanupOutput, error)
}

// SweepHandler handles the scheduled EventBridge event of the sweeper Lambda.
type SweepHandler struct {
	cleaner Cleaner
}

type SweepResult struct {
	Removed int `json:"cleaned_conversations"`
	Active  int `json:"active_conversations"`
}

func NewSweepHandler(cleaner Cleaner) (*SweepHandler, error) {
	if cleaner == nil {
		return nil, errors.New("handler: cleaner must not be nil")
	}
	return &SweepHandler{cleaner: cleaner}, nil
}

// Handle returns an error on failure so the invocation is reported as failed
// and retried by the scheduler.
func (h *SweepHandler) Handle(ctx context.Context, event events.CloudWatchEvent) (SweepResult, error) {
	out, err := h.cleaner.Cleanup(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "sweep failed", "event_id", event.ID, "err", err)
		return SweepResult{}, err
	}
	slog.InfoContext(ctx, "sweep completed", "event_id", event.ID, "removed", out.Removed, "active", out.Active)
	return SweepResult{Removed: out.Removed, Active: out.Active}, nil
}
