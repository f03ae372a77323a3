package usecase

import (
	"errors"
	"strings"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/quote"
)

type QuoteService struct {
	table *quote.Table
}

type QuoteInput struct {
	Age      int
	Category string
}

type QuoteOutput struct {
	Age      int
	Category domain.Category
	Bracket  string
	Quote    domain.Quote
}

type TypesOutput struct {
	Categories []domain.Category
	Brackets   map[domain.Category][]string
}

func NewQuoteService(table *quote.Table) (*QuoteService, error) {
	if table == nil {
		return nil, errors.New("usecase: quote table must not be nil")
	}
	return &QuoteService{table: table}, nil
}

// Quote looks up the rate for an age and category directly.
func (s *QuoteService) Quote(in QuoteInput) (QuoteOutput, error) {
	if in.Age == 0 {
		return QuoteOutput{}, newError(ErrorInvalidInput, "age_required", nil)
	}
	if !validAge(in.Age) {
		return QuoteOutput{}, newError(ErrorInvalidInput, "age_out_of_range", nil)
	}
	if strings.TrimSpace(in.Category) == "" {
		return QuoteOutput{}, newError(ErrorInvalidInput, "insurance_type_required", nil)
	}
	cat, ok := domain.ParseCategory(in.Category)
	if !ok {
		return QuoteOutput{}, newError(ErrorInvalidInput, "unknown_insurance_type", nil)
	}
	m, err := s.table.Lookup(cat, in.Age)
	if err != nil {
		return QuoteOutput{}, newError(ErrorNotFound, "no_matching_bracket", err)
	}
	return QuoteOutput{
		Age:      in.Age,
		Category: cat,
		Bracket:  m.Bracket.Label(),
		Quote:    m.Bracket.Quote,
	}, nil
}

// Types lists the categories and their bracket labels.
func (s *QuoteService) Types() TypesOutput {
	return TypesOutput{
		Categories: s.table.Categories(),
		Brackets:   s.table.Labels(),
	}
}
