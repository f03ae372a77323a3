package domain

import "errors"

// ErrConversationNotFound is returned by conversation stores for unknown or
// expired ids.
var ErrConversationNotFound = errors.New("conversation not found")
