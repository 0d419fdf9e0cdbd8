package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/tree"
)

// Names of the built-in actions.
const (
	Move    = "MOVE"
	Audit   = "AUDIT"
	Delete  = "DELETE"
	Restore = "RESTORE"
	Unfile  = "UNFILE"
	Cancel  = "CANCEL"
)

// Tree is the part of the tree manager the built-in actions use.
type Tree interface {
	Move(ctx context.Context, actor model.Actor, ref, parentRef string) (*model.Item, error)
	Audit(ctx context.Context, actor model.Actor, ref, note string) (*model.Item, error)
	SoftDelete(ctx context.Context, actor model.Actor, ref, reason string) (*model.Item, error)
	Restore(ctx context.Context, actor model.Actor, ref string, opts tree.RestoreOptions) (*model.Item, error)
}

// Builtins returns the standard actions backed by t.
func Builtins(t Tree) []Action {
	return []Action{
		{
			Name:          Move,
			Description:   "Move the selected item into the next scanned item",
			NeedsArgument: true,
			Check:         requireLive,
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				if c.Argument == nil {
					return nil, errors.New("move needs a destination")
				}
				item, err := t.Move(ctx, c.Actor, c.Subject.Reference, c.Argument.Reference)
				if err != nil {
					return nil, err
				}
				return &Outcome{
					Action:  Move,
					Item:    item,
					Message: fmt.Sprintf("Moved %s into %s", item.Name, c.Argument.Name),
				}, nil
			},
		},
		{
			Name:        Audit,
			Description: "Confirm the selected item is where it should be",
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				item, err := t.Audit(ctx, c.Actor, c.Subject.Reference, "")
				if err != nil {
					return nil, err
				}
				return &Outcome{Action: Audit, Item: item, Message: fmt.Sprintf("Audited %s", item.Name)}, nil
			},
		},
		{
			Name:        Delete,
			Description: "Delete the selected item",
			Deselects:   true,
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				if err := requireLive(ctx, c); err != nil {
					return nil, err
				}
				reason, err := c.Input.Prompt(ctx, InputRequest{
					Kind:      InputDeleteReason,
					Reference: c.Subject.Reference,
					Action:    Delete,
				})
				if err != nil {
					return nil, err
				}
				item, err := t.SoftDelete(ctx, c.Actor, c.Subject.Reference, reason)
				if err != nil {
					return nil, err
				}
				return &Outcome{Action: Delete, Item: item, Message: fmt.Sprintf("Deleted %s", item.Name)}, nil
			},
		},
		{
			Name:        Restore,
			Description: "Restore the selected deleted item into its former container",
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				item, err := t.Restore(ctx, c.Actor, c.Subject.Reference, tree.RestoreOptions{})
				if err != nil {
					return nil, err
				}
				return &Outcome{Action: Restore, Item: item, Message: fmt.Sprintf("Restored %s", item.Name)}, nil
			},
		},
		{
			Name:        Unfile,
			Description: "Take the selected item out of its container",
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				item, err := t.Move(ctx, c.Actor, c.Subject.Reference, "")
				if err != nil {
					return nil, err
				}
				return &Outcome{Action: Unfile, Item: item, Message: fmt.Sprintf("%s is now unfiled", item.Name)}, nil
			},
		},
		{
			Name:        Cancel,
			Description: "Drop the pending action, or clear the selection",
			Deselects:   true,
			Handler: func(ctx context.Context, c Call) (*Outcome, error) {
				return &Outcome{Action: Cancel, Item: c.Subject, Message: "Selection cleared"}, nil
			},
		},
	}
}

func requireLive(_ context.Context, c Call) error {
	if c.Subject.Deleted {
		return fmt.Errorf("%w: %s", tree.ErrItemDeleted, c.Subject.Reference)
	}
	return nil
}
