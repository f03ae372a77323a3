package usecase

import (
	"context"
	"time"

	"insurance-agent/internal/domain"
)

// transition is the quoting state machine. Collecting loops while fields are
// missing; quoting always ends in done. A turn arriving after done is
// evaluated again from the stored fields.
func transition(from domain.Stage, missing []domain.Field) domain.Stage {
	switch from {
	case domain.StageQuoting:
		return domain.StageDone
	default:
		if len(missing) > 0 {
			return domain.StageCollecting
		}
		return domain.StageQuoting
	}
}

type machine struct {
	extractor extractor
	responder responder
}

// turn processes one user utterance against conv and returns the reply. conv
// is mutated in place: both messages are appended and the stage advances.
func (m machine) turn(ctx context.Context, conv *domain.Conversation, utterance string, now time.Time) string {
	conv.Append(domain.RoleUser, utterance, now)
	m.extractor.apply(ctx, conv, utterance)

	missing := conv.Missing()
	conv.Stage = transition(conv.Stage, missing)

	var reply string
	switch conv.Stage {
	case domain.StageCollecting:
		reply = m.responder.followUp(ctx, conv, missing)
	case domain.StageQuoting:
		reply = m.responder.quote(ctx, conv)
		conv.Stage = transition(conv.Stage, nil)
	}

	conv.Append(domain.RoleAssistant, reply, now)
	conv.LastReply = reply
	return reply
}
