package quote

import (
	"testing"

	"github.com/stretchr/testify/require"

	"insurance-agent/internal/domain"
)

// expectedBracket restates the bracket rules independently of the YAML file.
func expectedBracket(cat domain.Category, age int) string {
	switch cat {
	case domain.CategoryHealth:
		switch {
		case age >= 18 && age <= 25:
			return "18-25"
		case age >= 26 && age <= 35:
			return "26-35"
		case age >= 36 && age <= 50:
			return "36-50"
		case age >= 51 && age <= 65:
			return "51-65"
		}
	case domain.CategoryLife:
		switch {
		case age >= 18 && age <= 30:
			return "18-30"
		case age >= 31 && age <= 45:
			return "31-45"
		case age >= 46 && age <= 60:
			return "46-60"
		}
	case domain.CategoryAuto:
		switch {
		case age >= 18 && age <= 25:
			return "18-25"
		case age >= 26 && age <= 40:
			return "26-40"
		case age >= 41 && age <= 65:
			return "41-65"
		}
	}
	return ""
}

func TestLookup_MatchesBracketRulesForAllAges(t *testing.T) {
	table := Default()
	for _, cat := range domain.Categories {
		for age := 18; age <= 100; age++ {
			want := expectedBracket(cat, age)
			m, err := table.Lookup(cat, age)
			if want == "" {
				require.ErrorIs(t, err, ErrNoBracket, "%s age %d", cat, age)
				continue
			}
			require.NoError(t, err, "%s age %d", cat, age)
			require.Equal(t, want, m.Bracket.Label(), "%s age %d", cat, age)

			again, err := table.Lookup(cat, age)
			require.NoError(t, err)
			require.Equal(t, m, again)
		}
	}
}

func TestLookup_Health28(t *testing.T) {
	m, err := Default().Lookup(domain.CategoryHealth, 28)
	require.NoError(t, err)
	require.Equal(t, "26-35", m.Bracket.Label())
	require.Equal(t, "$180-250/month", m.Bracket.Quote.Premium)
	require.Equal(t, "Comprehensive health coverage", m.Bracket.Quote.Coverage)
	require.Equal(t, "$1,200", m.Bracket.Quote.Deductible)
}

func TestLookup_Life70NotFound(t *testing.T) {
	_, err := Default().Lookup(domain.CategoryLife, 70)
	require.ErrorIs(t, err, ErrNoBracket)
}

func TestLookup_LifeCarriesPlanType(t *testing.T) {
	m, err := Default().Lookup(domain.CategoryLife, 40)
	require.NoError(t, err)
	require.Equal(t, "Term/Whole life", m.Bracket.Quote.PlanType)
	require.Empty(t, m.Bracket.Quote.Deductible)
}

func TestCategoriesAndLabels(t *testing.T) {
	table := Default()
	require.Equal(t, []domain.Category{domain.CategoryHealth, domain.CategoryLife, domain.CategoryAuto}, table.Categories())

	labels := table.Labels()
	require.Equal(t, []string{"18-25", "26-35", "36-50", "51-65"}, labels[domain.CategoryHealth])
	require.Equal(t, []string{"18-30", "31-45", "46-60"}, labels[domain.CategoryLife])
	require.Equal(t, []string{"18-25", "26-40", "41-65"}, labels[domain.CategoryAuto])
}

func TestParse_RejectsOverlap(t *testing.T) {
	_, err := Parse([]byte(`
categories:
  - name: auto
    brackets:
      - {min: 18, max: 30, premium: a, coverage: b}
      - {min: 30, max: 40, premium: a, coverage: b}
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "overlap")
}

func TestParse_RejectsUnknownCategory(t *testing.T) {
	_, err := Parse([]byte(`
categories:
  - name: pet
    brackets: []
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown category")
}

func TestParse_RejectsInvertedBracket(t *testing.T) {
	_, err := Parse([]byte(`
categories:
  - name: life
    brackets:
      - {min: 40, max: 30, premium: a, coverage: b}
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "inverted")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("categories: ["))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode table")
}
