// Package action holds the registry of operations that an action barcode
// can trigger on the selected item.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/erazemk/scanbin/internal/model"
)

var (
	// ErrUnknownAction is returned for an action name nobody registered.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInputRequired means the prompter cannot answer right now; the
	// caller has to supply the value with its next request.
	ErrInputRequired = errors.New("input required")
	// ErrInputCancelled means the user declined to answer a prompt.
	ErrInputCancelled = errors.New("input cancelled")
)

// InputKind names the value a prompt asks for.
type InputKind string

// Input kinds.
const (
	InputCreateLabel  InputKind = "create_label"
	InputDeleteReason InputKind = "delete_reason"
)

// InputRequest describes a question for the user.
type InputRequest struct {
	Kind      InputKind `json:"kind"`
	Reference string    `json:"reference"`
	Action    string    `json:"action,omitempty"`
}

// Prompter asks the user for extra input while a scan is being handled.
// It returns ErrInputCancelled if the user declines and ErrInputRequired if
// it cannot ask synchronously.
type Prompter interface {
	Prompt(ctx context.Context, req InputRequest) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req InputRequest) (string, error)

func (f PrompterFunc) Prompt(ctx context.Context, req InputRequest) (string, error) {
	return f(ctx, req)
}

// NoInput is a Prompter that can never answer.
var NoInput Prompter = PrompterFunc(func(context.Context, InputRequest) (string, error) {
	return "", ErrInputRequired
})

// Call carries everything a handler needs. Subject is the item selected
// before the action was scanned; Argument is the item scanned after it, for
// actions that need one.
type Call struct {
	Actor    model.Actor
	Subject  *model.Item
	Argument *model.Item
	Input    Prompter
}

// Outcome is what a successful action reports back.
type Outcome struct {
	Action  string      `json:"action"`
	Item    *model.Item `json:"item"`
	Message string      `json:"message"`
}

// Handler performs an action. A failed handler must leave no partial change.
type Handler func(ctx context.Context, call Call) (*Outcome, error)

// Action is a named operation.
type Action struct {
	Name          string
	Description   string
	NeedsArgument bool
	// Deselects clears the selection after the action succeeds.
	Deselects bool
	Handler   Handler
	// Check, if set, reports whether the call can succeed before its
	// argument exists. It is called with a nil Argument and must not change
	// anything.
	Check func(ctx context.Context, call Call) error
}

// Registry maps action names to actions. It is built once and never changes.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry. Names are upper-cased; duplicates, empty
// names and missing handlers are rejected.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		a.Name = strings.ToUpper(strings.TrimSpace(a.Name))
		if a.Name == "" {
			return nil, errors.New("action name must not be empty")
		}
		if a.Handler == nil {
			return nil, fmt.Errorf("action %s has no handler", a.Name)
		}
		if _, ok := r.actions[a.Name]; ok {
			return nil, fmt.Errorf("action %s registered twice", a.Name)
		}
		r.actions[a.Name] = a
	}
	return r, nil
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (Action, error) {
	a, ok := r.actions[strings.ToUpper(name)]
	if !ok {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return a, nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions returns the registered actions ordered by name.
func (r *Registry) Actions() []Action {
	names := r.Names()
	out := make([]Action, len(names))
	for i, name := range names {
		out[i] = r.actions[name]
	}
	return out
}
