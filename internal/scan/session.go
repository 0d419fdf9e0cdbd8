// Package scan implements scan sessions: the per-terminal state that turns a
// stream of scanned codes into item selections and actions.
package scan

import (
	"errors"
	"time"

	"github.com/erazemk/scanbin/internal/model"
)

// State is the position of a session in the scan-then-act cycle.
type State string

// Session states.
const (
	// StateIdle has nothing selected.
	StateIdle State = "idle"
	// StateItemSelected holds the subject for the next action.
	StateItemSelected State = "item_selected"
	// StateActionPending waits for the argument scan of an action.
	StateActionPending State = "action_pending"
)

var (
	ErrSessionNotFound  = errors.New("scan session not found")
	ErrNoItemSelected   = errors.New("no item selected")
	ErrMalformedBarcode = errors.New("malformed barcode")
)

// Session is the state of one scanning terminal.
type Session struct {
	ID            string    `json:"id"`
	UserID        *int64    `json:"user_id,omitempty"`
	Username      string    `json:"username"`
	State         State     `json:"state"`
	Selected      string    `json:"selected,omitempty"`
	PendingAction string    `json:"pending_action,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Actor returns who performs the changes made through the session.
func (s *Session) Actor() model.Actor {
	return model.Actor{UserID: s.UserID, Username: s.Username}
}

func (s *Session) selectItem(ref string) {
	s.State = StateItemSelected
	s.Selected = ref
	s.PendingAction = ""
}

func (s *Session) deselect() {
	s.State = StateIdle
	s.Selected = ""
	s.PendingAction = ""
}

// dropPending goes back to the selected item and returns the name of the
// discarded action.
func (s *Session) dropPending() string {
	name := s.PendingAction
	s.State = StateItemSelected
	s.PendingAction = ""
	return name
}
