// Package station drives a scan session from a line-oriented terminal. A
// scanner in keyboard mode types one code per line; prompts are answered on
// the same input.
package station

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/erazemk/scanbin/internal/action"
	"github.com/erazemk/scanbin/internal/model"
	"github.com/erazemk/scanbin/internal/scan"
	"github.com/erazemk/scanbin/internal/tree"
)

// Commands typed instead of a code.
const (
	CommandQuit   = ":q"
	CommandCancel = ":c"
)

// Sessions is the part of the scan service a station uses.
type Sessions interface {
	Open(ctx context.Context, actor model.Actor) (*scan.Session, error)
	Scan(ctx context.Context, id, text string, input action.Prompter) (*scan.Result, error)
	Cancel(ctx context.Context, id string) (*scan.Session, string, error)
	Close(ctx context.Context, id string) error
}

// Station reads codes from in and reports what they did on out.
type Station struct {
	sessions Sessions
	actor    model.Actor
	lines    *bufio.Scanner
	out      io.Writer
	logger   *slog.Logger
	id       string
}

// New returns a Station for actor. A nil logger uses slog.Default.
func New(s Sessions, actor model.Actor, in io.Reader, out io.Writer, logger *slog.Logger) *Station {
	if logger == nil {
		logger = slog.Default()
	}
	return &Station{
		sessions: s,
		actor:    actor,
		lines:    bufio.NewScanner(in),
		out:      out,
		logger:   logger,
	}
}

// Run opens a session and handles lines until the input ends, :q is typed
// or ctx is done. The session is closed on return.
func (st *Station) Run(ctx context.Context) error {
	if err := st.open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := st.sessions.Close(context.WithoutCancel(ctx), st.id); err != nil && !errors.Is(err, scan.ErrSessionNotFound) {
			st.logger.Warn("closing scan session", "session", st.id, "error", err)
		}
	}()

	st.printf("Ready. Scan an item, %s to cancel, %s to quit.\n", CommandCancel, CommandQuit)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, ok := st.readLine()
		if !ok {
			return st.lines.Err()
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case CommandQuit:
			return nil
		case CommandCancel:
			st.cancel(ctx)
		default:
			if err := st.scan(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (st *Station) open(ctx context.Context) error {
	sess, err := st.sessions.Open(ctx, st.actor)
	if err != nil {
		return fmt.Errorf("opening scan session: %w", err)
	}
	st.id = sess.ID
	return nil
}

// scan handles one code. Only failures that end the station are returned.
func (st *Station) scan(ctx context.Context, code string) error {
	res, err := st.sessions.Scan(ctx, st.id, code, action.PrompterFunc(st.prompt))
	if errors.Is(err, scan.ErrSessionNotFound) {
		st.printf("Session expired, starting a new one. Scan the item again.\n")
		return st.open(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		st.report(err)
		return nil
	}
	st.printf("%s\n", Describe(res))
	return nil
}

func (st *Station) cancel(ctx context.Context) {
	sess, cancelled, err := st.sessions.Cancel(ctx, st.id)
	if err != nil {
		st.report(err)
		return
	}
	switch {
	case cancelled != "":
		st.printf("Cancelled %s, %s still selected.\n", cancelled, sess.Selected)
	default:
		st.printf("Selection cleared.\n")
	}
}

func (st *Station) report(err error) {
	if tree.Retryable(err) {
		st.printf("Storage busy, scan again.\n")
		return
	}
	st.printf("Error: %v\n", err)
}

// prompt asks on out and reads the answer from the next line. An empty
// answer or the end of input declines.
func (st *Station) prompt(_ context.Context, req action.InputRequest) (string, error) {
	switch req.Kind {
	case action.InputCreateLabel:
		st.printf("%s is not in use yet. Name for the new item (empty to skip): ", req.Reference)
	case action.InputDeleteReason:
		st.printf("Reason for deleting %s (empty to cancel): ", req.Reference)
	default:
		st.printf("%s for %s: ", req.Kind, req.Reference)
	}

	line, ok := st.readLine()
	answer := strings.TrimSpace(line)
	if !ok || answer == "" || answer == CommandCancel {
		return "", action.ErrInputCancelled
	}
	return answer, nil
}

func (st *Station) readLine() (string, bool) {
	if !st.lines.Scan() {
		return "", false
	}
	return st.lines.Text(), true
}

func (st *Station) printf(format string, args ...any) {
	fmt.Fprintf(st.out, format, args...)
}

// Describe renders a scan result as one line for the operator.
func Describe(res *scan.Result) string {
	var b strings.Builder
	if res.Cancelled != "" {
		fmt.Fprintf(&b, "(%s cancelled) ", res.Cancelled)
	}

	switch res.Kind {
	case scan.ResultSelected, scan.ResultCreated:
		if res.Kind == scan.ResultCreated {
			b.WriteString("Created and selected ")
		} else {
			b.WriteString("Selected ")
		}
		fmt.Fprintf(&b, "%s %s", res.Item.Reference, res.Item.Name)
		if res.Location == "" || res.Location == tree.Unfiled {
			b.WriteString(" (unfiled)")
		} else {
			fmt.Fprintf(&b, " in %s", res.Location)
		}
		if res.Item.Deleted {
			b.WriteString(" [deleted]")
		}
	case scan.ResultActionPending:
		fmt.Fprintf(&b, "%s %s: scan the target", res.Session.PendingAction, res.Item.Name)
	case scan.ResultActionCompleted:
		if res.Created != nil {
			fmt.Fprintf(&b, "Created %s %s. ", res.Created.Reference, res.Created.Name)
		}
		b.WriteString(res.Outcome.Message)
	case scan.ResultCreateRequested:
		fmt.Fprintf(&b, "%s was not created", res.Input.Reference)
	default:
		b.WriteString(string(res.Kind))
	}
	return b.String()
}
