package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
)

func TestDelegate_Call(t *testing.T) {
	d := delegate{gen: &scriptedGenerator{reply: "  hello  "}, timeout: time.Second}
	text, err := d.call(context.Background(), "quote", domain.GenerateRequest{})
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestDelegate_CallFailures(t *testing.T) {
	_, err := delegate{}.call(context.Background(), "quote", domain.GenerateRequest{})
	expectError(t, err, ErrorUpstream, "quote_no_generator")

	_, err = delegate{gen: &scriptedGenerator{replyErr: errors.New("boom")}}.call(context.Background(), "quote", domain.GenerateRequest{})
	expectError(t, err, ErrorUpstream, "quote_call_failed")

	_, err = delegate{gen: &scriptedGenerator{reply: "   "}}.call(context.Background(), "quote", domain.GenerateRequest{})
	expectError(t, err, ErrorUpstream, "quote_empty_response")

	_, err = delegate{gen: &scriptedGenerator{replyErr: context.DeadlineExceeded}}.call(context.Background(), "quote", domain.GenerateRequest{})
	expectError(t, err, ErrorUpstream, "quote_timeout")
}

func TestDelegate_AbandonsSlowCall(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	defer close(gen.release)

	d := delegate{gen: gen, timeout: 10 * time.Millisecond}
	_, err := d.call(context.Background(), "followup", domain.GenerateRequest{})
	expectError(t, err, ErrorUpstream, "followup_timeout")
}

func TestDelegate_TextOr(t *testing.T) {
	d := delegate{gen: &scriptedGenerator{replyErr: errors.New("boom")}}
	require.Equal(t, "fallback", d.textOr(context.Background(), "quote", domain.GenerateRequest{}, func() string { return "fallback" }))

	d = delegate{gen: &scriptedGenerator{reply: "model"}}
	require.Equal(t, "model", d.textOr(context.Background(), "quote", domain.GenerateRequest{}, func() string { return "fallback" }))
}
