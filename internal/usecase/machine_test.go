package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
)

func TestTransition(t *testing.T) {
	missing := []domain.Field{domain.FieldAge}
	cases := []struct {
		from    domain.Stage
		missing []domain.Field
		want    domain.Stage
	}{
		{domain.StageStart, missing, domain.StageCollecting},
		{domain.StageStart, nil, domain.StageQuoting},
		{domain.StageCollecting, missing, domain.StageCollecting},
		{domain.StageCollecting, nil, domain.StageQuoting},
		{domain.StageQuoting, nil, domain.StageDone},
		{domain.StageDone, nil, domain.StageQuoting},
		{domain.StageDone, missing, domain.StageCollecting},
		{domain.Stage("corrupt"), missing, domain.StageCollecting},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, transition(tc.from, tc.missing), "from=%s missing=%v", tc.from, tc.missing)
	}
}

func TestCannedFollowUp(t *testing.T) {
	require.Equal(t, askBoth, cannedFollowUp([]domain.Field{domain.FieldAge, domain.FieldCategory}))
	require.Equal(t, askAge, cannedFollowUp([]domain.Field{domain.FieldAge}))
	require.Equal(t, askCategory, cannedFollowUp([]domain.Field{domain.FieldCategory}))
	require.Equal(t, askMore, cannedFollowUp(nil))
}

func TestCannedQuote_MissingDeductiblePrintsNA(t *testing.T) {
	q := cannedQuote(quoteMatch(t, domain.CategoryLife, 25))
	require.Contains(t, q, "life insurance options")
	require.Contains(t, q, "**Deductible**: N/A")
	require.Contains(t, q, "$20-40/month")
}
