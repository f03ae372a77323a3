package usecase

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"insurance-agent/internal/domain"
)

const (
	minAge = 18
	maxAge = 100
)

var agePattern = regexp.MustCompile(`\b(\d{1,3})\b`)

var categoryKeywords = map[string]domain.Category{
	"health":  domain.CategoryHealth,
	"medical": domain.CategoryHealth,
	"life":    domain.CategoryLife,
	"auto":    domain.CategoryAuto,
	"car":     domain.CategoryAuto,
	"vehicle": domain.CategoryAuto,
	"motor":   domain.CategoryAuto,
}

// extraction holds the fields found in one utterance; zero values mean absent.
type extraction struct {
	age      int
	category domain.Category
}

func validAge(age int) bool {
	return age >= minAge && age <= maxAge
}

type extractor struct {
	d delegate
}

// apply extracts fields from utterance and writes the ones the conversation
// does not have yet.
func (e extractor) apply(ctx context.Context, conv *domain.Conversation, utterance string) {
	if len(conv.Missing()) == 0 {
		return
	}
	ex := e.extract(ctx, utterance)
	conv.SetAge(ex.age)
	conv.SetCategory(ex.category)
}

// extract asks the generator for structured fields and falls back to a local
// scan when the call fails or returns something unusable.
func (e extractor) extract(ctx context.Context, utterance string) extraction {
	raw, err := e.d.call(ctx, "extract", buildExtractionRequest(utterance))
	if err == nil {
		ex, parseErr := parseExtraction(raw)
		if parseErr == nil {
			return ex
		}
		err = newError(ErrorUpstream, "extract_malformed_response", parseErr)
	}
	logFallback(ctx, "extract", err)
	return scan(utterance)
}

// scan takes the first integer in [18,100] as the age and the first category
// keyword as the category.
func scan(utterance string) extraction {
	var ex extraction
	for _, m := range agePattern.FindAllStringSubmatch(utterance, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && validAge(n) {
			ex.age = n
			break
		}
	}
	words := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if cat, ok := categoryKeywords[w]; ok {
			ex.category = cat
			break
		}
	}
	return ex
}
