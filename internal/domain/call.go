package domain

import (
	"errors"

	"github.com/google/uuid"
)

var ErrDescriptionEmpty = errors.New("description state empty")

type CallID string

// NewCallID is used to tag logs of a single call attempt.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// CallDescription is a localized status line the host shows for a call state.
type CallDescription struct {
	State       string `json:"state"`
	Description string `json:"description"`
}

// NewCallDescription requires a state; the description text is free-form and
// may be empty.
func NewCallDescription(state, description string) (CallDescription, error) {
	if len(state) == 0 {
		return CallDescription{}, ErrDescriptionEmpty
	}
	return CallDescription{State: state, Description: description}, nil
}
