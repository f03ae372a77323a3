package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/quote"
)

func newTestQuotes(t *testing.T) *QuoteService {
	t.Helper()
	svc, err := NewQuoteService(quote.Default())
	require.NoError(t, err)
	return svc
}

func TestNewQuoteService_NilTable(t *testing.T) {
	_, err := NewQuoteService(nil)
	require.Error(t, err)
}

func TestQuote_HappyPath(t *testing.T) {
	out, err := newTestQuotes(t).Quote(QuoteInput{Age: 28, Category: "health"})
	require.NoError(t, err)
	require.Equal(t, "26-35", out.Bracket)
	require.Equal(t, domain.CategoryHealth, out.Category)
	require.Equal(t, "$180-250/month", out.Quote.Premium)
}

func TestQuote_NoBracket(t *testing.T) {
	_, err := newTestQuotes(t).Quote(QuoteInput{Age: 70, Category: "life"})
	expectError(t, err, ErrorNotFound, "no_matching_bracket")
}

func TestQuote_ValidationErrors(t *testing.T) {
	svc := newTestQuotes(t)
	cases := []struct {
		in     QuoteInput
		reason string
	}{
		{QuoteInput{Category: "health"}, "age_required"},
		{QuoteInput{Age: 17, Category: "health"}, "age_out_of_range"},
		{QuoteInput{Age: 101, Category: "health"}, "age_out_of_range"},
		{QuoteInput{Age: 30}, "insurance_type_required"},
		{QuoteInput{Age: 30, Category: "travel"}, "unknown_insurance_type"},
	}
	for _, tc := range cases {
		_, err := svc.Quote(tc.in)
		expectError(t, err, ErrorInvalidInput, tc.reason)
	}
}

func TestTypes(t *testing.T) {
	out := newTestQuotes(t).Types()
	require.Equal(t, domain.Categories, out.Categories)
	require.Equal(t, []string{"18-30", "31-45", "46-60"}, out.Brackets[domain.CategoryLife])
}
