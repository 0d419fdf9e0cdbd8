// Package barcode interprets the decoded text delivered by a scanner.
package barcode

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Kind is the classification of a scanned code.
type Kind string

// Classification kinds.
const (
	KindInternal  Kind = "internal"
	KindAction    Kind = "action"
	KindExternal  Kind = "external"
	KindMalformed Kind = "malformed"
)

// Result is the outcome of classifying one scan.
//
// Payload is the normalized reference for internal codes, the upper-cased
// action name for action codes and the trimmed text otherwise. Raw is the
// text exactly as received.
type Result struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
	Raw     string `json:"raw"`
}

var (
	internalSuffix = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	actionSuffix   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// Classifier sorts scanned text into internal references, action codes and
// external barcodes. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	internalPrefix string
	actionPrefix   string
}

// NewClassifier returns a Classifier for the given prefixes. Prefixes are
// compared case-insensitively and stored upper-cased.
func NewClassifier(internalPrefix, actionPrefix string) (*Classifier, error) {
	ip := strings.ToUpper(strings.TrimSpace(internalPrefix))
	ap := strings.ToUpper(strings.TrimSpace(actionPrefix))
	if ip == "" || ap == "" {
		return nil, errors.New("barcode prefixes must not be empty")
	}
	if strings.HasPrefix(ip, ap) || strings.HasPrefix(ap, ip) {
		return nil, fmt.Errorf("barcode prefixes %q and %q overlap", ip, ap)
	}
	return &Classifier{internalPrefix: ip, actionPrefix: ap}, nil
}

// InternalPrefix returns the normalized internal reference prefix.
func (c *Classifier) InternalPrefix() string { return c.internalPrefix }

// ActionPrefix returns the normalized action prefix.
func (c *Classifier) ActionPrefix() string { return c.actionPrefix }

// Classify never fails: text that is neither internal nor an action is an
// external code, unless it carries a known prefix with a bad suffix.
func (c *Classifier) Classify(text string) Result {
	trimmed := strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	if trimmed == "" {
		return Result{Kind: KindMalformed, Payload: trimmed, Raw: text}
	}

	// Longer prefix first.
	type rule struct {
		prefix string
		kind   Kind
	}
	rules := []rule{{c.internalPrefix, KindInternal}, {c.actionPrefix, KindAction}}
	if len(c.actionPrefix) > len(c.internalPrefix) {
		rules[0], rules[1] = rules[1], rules[0]
	}

	for _, r := range rules {
		if len(trimmed) < len(r.prefix) || !strings.EqualFold(trimmed[:len(r.prefix)], r.prefix) {
			continue
		}
		suffix := trimmed[len(r.prefix):]
		switch r.kind {
		case KindInternal:
			if !internalSuffix.MatchString(suffix) {
				return Result{Kind: KindMalformed, Payload: trimmed, Raw: text}
			}
			return Result{Kind: KindInternal, Payload: r.prefix + strings.ToUpper(suffix), Raw: text}
		case KindAction:
			if !actionSuffix.MatchString(suffix) {
				return Result{Kind: KindMalformed, Payload: trimmed, Raw: text}
			}
			return Result{Kind: KindAction, Payload: strings.ToUpper(suffix), Raw: text}
		}
	}

	return Result{Kind: KindExternal, Payload: trimmed, Raw: text}
}

// IsInternal reports whether code is a well-formed internal reference.
func (c *Classifier) IsInternal(code string) bool {
	return c.Classify(code).Kind == KindInternal
}
