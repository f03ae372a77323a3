package domain

import (
	"fmt"
	"strings"
)

// Category is an insurance product line.
type Category string

const (
	CategoryHealth Category = "health"
	CategoryLife   Category = "life"
	CategoryAuto   Category = "auto"
)

// Categories lists the supported categories in display order.
var Categories = []Category{CategoryHealth, CategoryLife, CategoryAuto}

func (c Category) Valid() bool {
	switch c {
	case CategoryHealth, CategoryLife, CategoryAuto:
		return true
	}
	return false
}

// ParseCategory normalizes s and reports whether it names a category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Quote is a read-only record of the rate table.
type Quote struct {
	Premium    string `json:"premium" yaml:"premium"`
	Coverage   string `json:"coverage" yaml:"coverage"`
	Deductible string `json:"deductible,omitempty" yaml:"deductible"`
	PlanType   string `json:"type,omitempty" yaml:"type"`
}

// Bracket is a closed age interval with its quote.
type Bracket struct {
	Min   int   `yaml:"min"`
	Max   int   `yaml:"max"`
	Quote Quote `yaml:",inline"`
}

func (b Bracket) Contains(age int) bool {
	return age >= b.Min && age <= b.Max
}

// Label renders the bracket as "min-max".
func (b Bracket) Label() string {
	return fmt.Sprintf("%d-%d", b.Min, b.Max)
}
