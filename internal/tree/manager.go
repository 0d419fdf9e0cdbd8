// Package tree manages the containment forest of items: lookups, moves,
// soft deletion and the history written alongside every change.
package tree

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/erazemk/scanbin/internal/clock"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/store"
)

// MaxDepth bounds every ancestor walk. No legitimate tree is this deep, so a
// longer chain means the parent links loop.
const MaxDepth = 256

// DeletePolicy decides what happens to the contents of a deleted container.
type DeletePolicy string

// Delete policies.
const (
	// PolicyCascade soft-deletes every live descendant along with the item.
	PolicyCascade DeletePolicy = "cascade"
	// PolicyBlock refuses to delete an item that still holds live items.
	PolicyBlock DeletePolicy = "block"
)

// ParseDeletePolicy validates a configured policy name.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(s); p {
	case PolicyCascade, PolicyBlock:
		return p, nil
	case "":
		return PolicyCascade, nil
	}
	return "", fmt.Errorf("unknown delete policy %q", s)
}

// Manager owns all mutations of the item tree. Each mutation runs in one
// immediate transaction that also appends the history entry, so the
// validity checks and the write see the same tree.
type Manager struct {
	db             *sql.DB
	clock          clock.Clock
	logger         *slog.Logger
	policy         DeletePolicy
	internalPrefix string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDeletePolicy sets how deleting a container treats its contents.
func WithDeletePolicy(p DeletePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithInternalPrefix sets the prefix of allocated references.
func WithInternalPrefix(prefix string) Option {
	return func(m *Manager) { m.internalPrefix = prefix }
}

// NewManager returns a Manager over a migrated database.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:             db,
		clock:          clock.Real{},
		logger:         slog.Default(),
		policy:         PolicyCascade,
		internalPrefix: "T=",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeletePolicy returns the configured delete policy.
func (m *Manager) DeletePolicy() DeletePolicy { return m.policy }

func (m *Manager) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return storeError(err)
	}
	if err := tx.Commit(); err != nil {
		return storeError(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

func (m *Manager) itemByRef(ctx context.Context, q store.Querier, ref string) (*model.Item, error) {
	item, err := store.GetItemByReference(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return item, nil
}

func (m *Manager) liveItemByRef(ctx context.Context, q store.Querier, ref string) (*model.Item, error) {
	item, err := m.itemByRef(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrItemDeleted, ref)
	}
	return item, nil
}

// chain returns the ancestors of item nearest first and fails with
// ErrInconsistent if the parent links loop or run deeper than MaxDepth.
func (m *Manager) chain(ctx context.Context, q store.Querier, item *model.Item) ([]model.Item, error) {
	ancestors, err := store.ListAncestors(ctx, q, item.ID, MaxDepth+1)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{item.ID: true}
	for _, a := range ancestors {
		if seen[a.ID] {
			m.logInconsistent(item, ancestors, "parent links loop")
			return nil, fmt.Errorf("%w: loop above %s at %s", ErrInconsistent, item.Reference, a.Reference)
		}
		seen[a.ID] = true
	}
	if len(ancestors) > MaxDepth {
		m.logInconsistent(item, ancestors, "chain exceeds max depth")
		return nil, fmt.Errorf("%w: chain above %s exceeds %d", ErrInconsistent, item.Reference, MaxDepth)
	}
	return ancestors, nil
}

func (m *Manager) logInconsistent(item *model.Item, ancestors []model.Item, problem string) {
	refs := make([]string, 0, len(ancestors))
	for _, a := range ancestors {
		refs = append(refs, a.Reference)
	}
	m.logger.Error("containment tree inconsistent", "problem", problem, "item", item.Reference, "chain", refs)
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
