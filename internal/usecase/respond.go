package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"insurance-agent/internal/domain"
	"insurance-agent/internal/quote"
)

const (
	greeting = "Hi! I'm your insurance assistant. How can I help you find the right insurance today?"

	askBoth     = "Hi! I'd be happy to help you find insurance options. Could you tell me your age and what type of insurance you're looking for? (health, life, or auto)"
	askAge      = "Could you please tell me your age so I can find the best insurance options for you?"
	askCategory = "What type of insurance are you interested in? I can help with health, life, or auto insurance."
	askMore     = "I need a bit more information to help you better."
)

type responder struct {
	d              delegate
	table          *quote.Table
	historyContext int
}

// followUp asks for the missing fields.
func (r responder) followUp(ctx context.Context, conv *domain.Conversation, missing []domain.Field) string {
	history := conv.Messages
	if r.historyContext > 0 && len(history) > r.historyContext {
		history = history[len(history)-r.historyContext:]
	}
	return r.d.textOr(ctx, "followup", buildFollowUpRequest(history, missing), func() string {
		return cannedFollowUp(missing)
	})
}

func cannedFollowUp(missing []domain.Field) string {
	var age, cat bool
	for _, f := range missing {
		switch f {
		case domain.FieldAge:
			age = true
		case domain.FieldCategory:
			cat = true
		}
	}
	switch {
	case age && cat:
		return askBoth
	case age:
		return askAge
	case cat:
		return askCategory
	default:
		return askMore
	}
}

// quote looks up the bracket for the conversation's fields and phrases the
// result, or the not-found reply when no bracket covers the age.
func (r responder) quote(ctx context.Context, conv *domain.Conversation) string {
	m, err := r.table.Lookup(conv.Category, conv.Age)
	if err != nil {
		if !errors.Is(err, quote.ErrNoBracket) {
			logFallback(ctx, "quote", err)
		}
		return r.d.textOr(ctx, "not_found", buildNotFoundRequest(conv.Category, conv.Age), func() string {
			return cannedNotFound(conv.Category)
		})
	}
	return r.d.textOr(ctx, "quote", buildQuoteRequest(quoteInfo(conv.Age, m)), func() string {
		return cannedQuote(m)
	})
}

func quoteInfo(age int, m quote.Match) string {
	q := m.Bracket.Quote
	lines := []string{
		"Insurance Type: " + titleCase(string(m.Category)),
		fmt.Sprintf("Age: %d", age),
		"Premium: " + orDefault(q.Premium, "Contact for quote"),
		"Coverage: " + orDefault(q.Coverage, "Standard coverage"),
		"Deductible: " + orDefault(q.Deductible, "N/A"),
	}
	if q.PlanType != "" {
		lines = append(lines, "Plan Type: "+q.PlanType)
	}
	return strings.Join(lines, "\n")
}

func cannedQuote(m quote.Match) string {
	q := m.Bracket.Quote
	return fmt.Sprintf(`🎯 Great! I found %s insurance options for you:

📊 **Premium**: %s
🛡️ **Coverage**: %s
💰 **Deductible**: %s

Would you like more details about this plan or have any questions? 😊`,
		m.Category,
		orDefault(q.Premium, "Contact for quote"),
		orDefault(q.Coverage, "Standard coverage"),
		orDefault(q.Deductible, "N/A"),
	)
}

func cannedNotFound(cat domain.Category) string {
	return fmt.Sprintf("I apologize, but I couldn't find specific %s insurance options for your age group. "+
		"Please contact our support team for personalized assistance.", cat)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
