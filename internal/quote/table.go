// Package quote holds the static rate table and the age bracket rules.
package quote

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"insurance-agent/internal/domain"
)

//go:embed rates.yaml
var defaultRates []byte

// ErrNoBracket is returned when no bracket of the category covers the age.
var ErrNoBracket = errors.New("quote: no bracket for age")

type tableFile struct {
	Categories []struct {
		Name     string           `yaml:"name"`
		Brackets []domain.Bracket `yaml:"brackets"`
	} `yaml:"categories"`
}

// Table is immutable after construction and safe for concurrent use.
type Table struct {
	order    []domain.Category
	brackets map[domain.Category][]domain.Bracket
}

// Match is the result of a successful lookup.
type Match struct {
	Category domain.Category
	Bracket  domain.Bracket
}

// Default returns the embedded rate table.
func Default() *Table {
	t, err := Parse(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("quote: embedded rate table: %v", err))
	}
	return t
}

// Parse decodes a YAML rate table. Brackets must be closed intervals that do
// not overlap within a category.
func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("quote: decode table: %w", err)
	}
	t := &Table{brackets: make(map[domain.Category][]domain.Bracket, len(f.Categories))}
	for _, c := range f.Categories {
		cat, ok := domain.ParseCategory(c.Name)
		if !ok {
			return nil, fmt.Errorf("quote: unknown category %q", c.Name)
		}
		if _, dup := t.brackets[cat]; dup {
			return nil, fmt.Errorf("quote: duplicate category %q", cat)
		}
		brackets := append([]domain.Bracket(nil), c.Brackets...)
		sort.Slice(brackets, func(i, j int) bool { return brackets[i].Min < brackets[j].Min })
		for i, b := range brackets {
			if b.Min > b.Max {
				return nil, fmt.Errorf("quote: %s bracket %s is inverted", cat, b.Label())
			}
			if i > 0 && b.Min <= brackets[i-1].Max {
				return nil, fmt.Errorf("quote: %s brackets %s and %s overlap", cat, brackets[i-1].Label(), b.Label())
			}
		}
		t.order = append(t.order, cat)
		t.brackets[cat] = brackets
	}
	return t, nil
}

// Lookup finds the bracket of cat containing age.
func (t *Table) Lookup(cat domain.Category, age int) (Match, error) {
	for _, b := range t.brackets[cat] {
		if b.Contains(age) {
			return Match{Category: cat, Bracket: b}, nil
		}
	}
	return Match{}, fmt.Errorf("%w: %s age %d", ErrNoBracket, cat, age)
}

// Categories returns the categories in table order.
func (t *Table) Categories() []domain.Category {
	return append([]domain.Category(nil), t.order...)
}

// Labels returns the bracket labels of every category.
func (t *Table) Labels() map[domain.Category][]string {
	out := make(map[domain.Category][]string, len(t.brackets))
	for cat, brackets := range t.brackets {
		labels := make([]string, 0, len(brackets))
		for _, b := range brackets {
			labels = append(labels, b.Label())
		}
		out[cat] = labels
	}
	return out
}
