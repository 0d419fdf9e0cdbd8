package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/barcode"
	"github.com/erazemk/scanbin/internal/clock"
	"github.com/erazemk/scanbin/internal/metrics"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/tree"
)

// ResultKind says what a scan did.
type ResultKind string

// Result kinds.
const (
	ResultSelected        ResultKind = "selected"
	ResultActionPending   ResultKind = "action_pending"
	ResultActionCompleted ResultKind = "action_completed"
	ResultCreateRequested ResultKind = "create_requested"
	ResultCreated         ResultKind = "created"
)

// Result is what the user should see after a scan.
type Result struct {
	Kind    ResultKind     `json:"kind"`
	Scan    barcode.Result `json:"scan"`
	Session *Session       `json:"session"`
	// Item is the selected item, or the subject of the action.
	Item     *model.Item `json:"item,omitempty"`
	Location string      `json:"location,omitempty"`
	// Created is set when the scan created a new item.
	Created *model.Item     `json:"created,omitempty"`
	Outcome *action.Outcome `json:"outcome,omitempty"`
	// Cancelled names a pending action the scan discarded.
	Cancelled string `json:"cancelled,omitempty"`
	// Input is the question that has to be answered to finish the scan.
	Input *action.InputRequest `json:"input,omitempty"`
}

// Tree is the part of the tree manager a session needs.
type Tree interface {
	LookupReference(ctx context.Context, ref string) (*model.Item, error)
	LookupExternal(ctx context.Context, code string) (*model.Item, error)
	Create(ctx context.Context, actor model.Actor, n tree.NewItem) (*model.Item, error)
	PathToRoot(ctx context.Context, ref string) ([]model.Item, error)
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// Service runs scans against sessions kept in a Store.
type Service struct {
	classifier *barcode.Classifier
	tree       Tree
	registry   *action.Registry
	store      Store
	clock      clock.Clock
	ids        IDGenerator
	logger     *slog.Logger
}

// NewService wires a Service. A nil logger uses slog.Default.
func NewService(c *barcode.Classifier, t Tree, r *action.Registry, s Store, clk clock.Clock, ids IDGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier: c,
		tree:       t,
		registry:   r,
		store:      s,
		clock:      clk,
		ids:        ids,
		logger:     logger,
	}
}

// Registry returns the actions the service dispatches to.
func (s *Service) Registry() *action.Registry { return s.registry }

// Classifier returns the classifier used for scans.
func (s *Service) Classifier() *barcode.Classifier { return s.classifier }

// Open starts an idle session for actor.
func (s *Service) Open(ctx context.Context, actor model.Actor) (*Session, error) {
	now := s.clock.Now()
	sess := &Session{
		ID:        s.ids.New(),
		UserID:    actor.UserID,
		Username:  actor.Username,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, unavailable(err)
	}
	metrics.SessionsOpened.Inc()
	s.logger.Info("scan session opened", "session", sess.ID, "user", actor.Username)
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	return sess, nil
}

// Close ends a session.
func (s *Service) Close(ctx context.Context, id string) error {
	unlock, err := s.store.Lock(ctx, id)
	if err != nil {
		return unavailable(err)
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return unavailable(err)
	}
	s.logger.Info("scan session closed", "session", id)
	return nil
}

// Cancel drops a pending action, or the selection when nothing is pending.
// It returns the updated session and the name of the dropped action.
func (s *Service) Cancel(ctx context.Context, id string) (*Session, string, error) {
	var cancelled string
	sess, err := s.update(ctx, id, func(sess *Session) error {
		switch sess.State {
		case StateActionPending:
			cancelled = sess.dropPending()
		case StateItemSelected:
			sess.deselect()
		}
		return nil
	})
	return sess, cancelled, err
}

// Scan handles one scanned code. The subject of an action is always the
// item selected before the action code was scanned, and an action that needs
// an argument consumes exactly the next item scan. On any error the stored
// session is left as it was.
func (s *Service) Scan(ctx context.Context, id, text string, input action.Prompter) (*Result, error) {
	if input == nil {
		input = action.NoInput
	}
	code := s.classifier.Classify(text)
	metrics.ScansTotal.WithLabelValues(string(code.Kind)).Inc()

	var result *Result
	sess, err := s.update(ctx, id, func(sess *Session) error {
		var err error
		switch code.Kind {
		case barcode.KindMalformed:
			return fmt.Errorf("%w: %q", ErrMalformedBarcode, code.Payload)
		case barcode.KindAction:
			result, err = s.scanAction(ctx, sess, code.Payload, input)
		default:
			result, err = s.scanItem(ctx, sess, code, input)
		}
		return err
	})
	if err != nil {
		s.logger.Debug("scan rejected", "session", id, "code", code.Payload, "error", err)
		return nil, err
	}

	result.Scan = code
	result.Session = sess
	return result, nil
}

// update applies fn to a copy of the session under its lock and saves the
// copy only if fn succeeds.
func (s *Service) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock, err := s.store.Lock(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}
	defer unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, unavailable(err)
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	sess.UpdatedAt = s.clock.Now()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, unavailable(err)
	}
	return sess, nil
}

func (s *Service) scanAction(ctx context.Context, sess *Session, name string, input action.Prompter) (*Result, error) {
	act, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if sess.State == StateIdle {
		return nil, fmt.Errorf("%w: scan an item before %s", ErrNoItemSelected, act.Name)
	}

	subject, err := s.tree.LookupReference(ctx, sess.Selected)
	if err != nil {
		return nil, err
	}

	var cancelled string
	if sess.State == StateActionPending {
		cancelled = sess.dropPending()
		if act.Name == action.Cancel {
			outcome := &action.Outcome{Action: action.Cancel, Item: subject, Message: subject.Reference + " still selected"}
			return &Result{Kind: ResultActionCompleted, Item: subject, Outcome: outcome, Cancelled: cancelled}, nil
		}
	}

	if act.NeedsArgument {
		sess.State = StateActionPending
		sess.PendingAction = act.Name
		return &Result{Kind: ResultActionPending, Item: subject, Cancelled: cancelled}, nil
	}

	outcome, err := s.run(ctx, act, action.Call{Actor: sess.Actor(), Subject: subject, Input: input})
	if err != nil {
		return nil, err
	}
	s.finish(sess, act)
	return &Result{Kind: ResultActionCompleted, Item: outcome.Item, Outcome: outcome, Cancelled: cancelled}, nil
}

func (s *Service) scanItem(ctx context.Context, sess *Session, code barcode.Result, input action.Prompter) (*Result, error) {
	var item *model.Item
	var err error
	if code.Kind == barcode.KindInternal {
		item, err = s.tree.LookupReference(ctx, code.Payload)
	} else {
		item, err = s.tree.LookupExternal(ctx, code.Payload)
	}
	if err != nil && !(errors.Is(err, tree.ErrNotFound) && code.Kind == barcode.KindInternal) {
		return nil, err
	}

	var pending *pendingCall
	if sess.State == StateActionPending {
		if pending, err = s.pending(ctx, sess, input); err != nil {
			return nil, err
		}
	}

	var created *model.Item
	if item == nil {
		// Refuse before creating anything when the pending action would
		// fail anyway.
		if pending != nil && pending.act.Check != nil {
			if err := pending.act.Check(ctx, pending.call); err != nil {
				return nil, err
			}
		}
		req := action.InputRequest{Kind: action.InputCreateLabel, Reference: code.Payload, Action: sess.PendingAction}
		label, err := input.Prompt(ctx, req)
		if errors.Is(err, action.ErrInputRequired) || errors.Is(err, action.ErrInputCancelled) {
			return &Result{Kind: ResultCreateRequested, Input: &req}, nil
		}
		if err != nil {
			return nil, err
		}
		created, err = s.tree.Create(ctx, sess.Actor(), tree.NewItem{Reference: code.Payload, Name: label})
		if err != nil {
			return nil, err
		}
		item = created
	}

	if pending != nil {
		return s.completePending(ctx, sess, pending, item, created)
	}

	ancestors, err := s.tree.PathToRoot(ctx, item.Reference)
	if err != nil {
		return nil, err
	}
	sess.selectItem(item.Reference)

	kind := ResultSelected
	if created != nil {
		kind = ResultCreated
	}
	return &Result{Kind: kind, Item: item, Location: tree.Location(ancestors), Created: created}, nil
}

// pendingCall is a pending action with its subject resolved, waiting for
// the argument.
type pendingCall struct {
	act  action.Action
	call action.Call
}

func (s *Service) pending(ctx context.Context, sess *Session, input action.Prompter) (*pendingCall, error) {
	act, err := s.registry.Lookup(sess.PendingAction)
	if err != nil {
		return nil, err
	}
	subject, err := s.tree.LookupReference(ctx, sess.Selected)
	if err != nil {
		return nil, err
	}
	return &pendingCall{act: act, call: action.Call{Actor: sess.Actor(), Subject: subject, Input: input}}, nil
}

// completePending runs the pending action with arg as its argument. The
// subject stays selected unless the action deselects.
func (s *Service) completePending(ctx context.Context, sess *Session, p *pendingCall, arg, created *model.Item) (*Result, error) {
	call := p.call
	call.Argument = arg
	outcome, err := s.run(ctx, p.act, call)
	if err != nil {
		return nil, err
	}
	s.finish(sess, p.act)
	return &Result{Kind: ResultActionCompleted, Item: outcome.Item, Outcome: outcome, Created: created}, nil
}

func (s *Service) run(ctx context.Context, act action.Action, call action.Call) (*action.Outcome, error) {
	outcome, err := act.Handler(ctx, call)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(act.Name, "error").Inc()
		return nil, err
	}
	metrics.ActionsTotal.WithLabelValues(act.Name, "ok").Inc()
	s.logger.Info("action completed", "action", act.Name, "item", call.Subject.Reference, "user", call.Actor.Username)
	return outcome, nil
}

func (s *Service) finish(sess *Session, act action.Action) {
	if act.Deselects {
		sess.deselect()
		return
	}
	sess.State = StateItemSelected
	sess.PendingAction = ""
}

// unavailable maps store failures onto tree.ErrStoreUnavailable, leaving
// ErrSessionNotFound and context errors as they are.
func unavailable(err error) error {
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, tree.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", tree.ErrStoreUnavailable, err)
}
