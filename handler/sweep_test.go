package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"insurance-agent/internal/usecase"
)

func TestNewSweepHandler_ValidatesDependency(t *testing.T) {
	_, err := NewSweepHandler(nil)
	require.Error(t, err)
}

func TestSweepHandler_ReportsCounts(t *testing.T) {
	chat := &stubChat{cleanupOut: usecase.CleanupOutput{Removed: 2, Active: 5}}
	h, err := NewSweepHandler(chat)
	require.NoError(t, err)

	out, err := h.Handle(context.Background(), events.CloudWatchEvent{ID: "evt-1", Source: "aws.events"})
	require.NoError(t, err)
	require.True(t, chat.cleaned)
	require.Equal(t, SweepResult{Removed: 2, Active: 5}, out)
}

func TestSweepHandler_PropagatesFailure(t *testing.T) {
	chat := &stubChat{err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_sweep_error", Err: errors.New("throttled")}}
	h, err := NewSweepHandler(chat)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), events.CloudWatchEvent{ID: "evt-1"})
	require.Error(t, err)
	require.ErrorContains(t, err, "throttled")
}
