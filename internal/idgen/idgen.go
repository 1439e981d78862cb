package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixState = "state_"
)

// NewState generates a new OAuth state token with state_ prefix
func NewState() string {
	return PrefixState + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
