package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Field names a piece of information the assistant must collect.
type Field string

const (
	FieldAge      Field = "age"
	FieldCategory Field = "insurance_type"
)

// Stage is the position of a conversation in the quoting state machine.
type Stage string

const (
	StageStart      Stage = "start"
	StageCollecting Stage = "collecting"
	StageQuoting    Stage = "quoting"
	StageDone       Stage = "done"
)

// Message is a single persisted conversation turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation is the state carried between turns. Age and Category are
// monotonic: the setters ignore writes once a value is present.
type Conversation struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	Age          int       `json:"age,omitempty"`
	Category     Category  `json:"category,omitempty"`
	Stage        Stage     `json:"stage"`
	LastReply    string    `json:"last_reply,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewConversation returns an empty conversation in the start stage.
func NewConversation(id string, now time.Time) Conversation {
	return Conversation{
		ID:           id,
		Messages:     []Message{},
		Stage:        StageStart,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (c *Conversation) HasAge() bool { return c.Age != 0 }

func (c *Conversation) HasCategory() bool { return c.Category != "" }

// SetAge records the age if none is known yet and reports whether it did.
func (c *Conversation) SetAge(age int) bool {
	if c.HasAge() || age == 0 {
		return false
	}
	c.Age = age
	return true
}

// SetCategory records the category if none is known yet and reports whether it did.
func (c *Conversation) SetCategory(cat Category) bool {
	if c.HasCategory() || !cat.Valid() {
		return false
	}
	c.Category = cat
	return true
}

// Missing lists the fields still required before a quote can be produced,
// age first.
func (c *Conversation) Missing() []Field {
	var missing []Field
	if !c.HasAge() {
		missing = append(missing, FieldAge)
	}
	if !c.HasCategory() {
		missing = append(missing, FieldCategory)
	}
	return missing
}

// Append adds a turn to the history and bumps the activity time.
func (c *Conversation) Append(role, content string, at time.Time) Message {
	m := Message{Role: role, Content: content, At: at}
	c.Messages = append(c.Messages, m)
	c.LastActivity = at
	return m
}

// Clone returns a deep copy safe to hand to another owner.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
