package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier("T=", "V=")
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name    string
		in      string
		kind    Kind
		payload string
	}{
		{"internal", "T=1241", KindInternal, "T=1241"},
		{"action", "V=AUDIT", KindAction, "AUDIT"},
		{"external upc", "012345678905", KindExternal, "012345678905"},
		{"internal lowercase", "t=12ab", KindInternal, "T=12AB"},
		{"action lowercase", "v=move", KindAction, "MOVE"},
		{"action with dash", "V=mark-lost", KindAction, "MARK-LOST"},
		{"trailing newline", "T=7\r\n", KindInternal, "T=7"},
		{"surrounding spaces", "  SN 991  ", KindExternal, "SN 991"},
		{"empty internal suffix", "T=", KindMalformed, "T="},
		{"bad internal suffix", "T=12-4", KindMalformed, "T=12-4"},
		{"action starting with digit", "V=1AUDIT", KindMalformed, "V=1AUDIT"},
		{"empty action", "V=", KindMalformed, "V="},
		{"empty", "", KindMalformed, ""},
		{"only whitespace", " \t\n", KindMalformed, ""},
		{"external resembling prefix", "T-1241", KindExternal, "T-1241"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.payload, got.Payload)
			assert.Equal(t, tt.in, got.Raw)
		})
	}
}

func TestClassifyLongerPrefixWins(t *testing.T) {
	c, err := NewClassifier("ITEM-", "A:")
	require.NoError(t, err)

	assert.Equal(t, KindInternal, c.Classify("item-42").Kind)
	assert.Equal(t, KindAction, c.Classify("A:MOVE").Kind)
	assert.Equal(t, KindExternal, c.Classify("ITEM42").Kind)
}

func TestNewClassifierRejectsBadPrefixes(t *testing.T) {
	_, err := NewClassifier("", "V=")
	assert.Error(t, err)

	_, err = NewClassifier("T=", " ")
	assert.Error(t, err)

	_, err = NewClassifier("T", "T=")
	assert.Error(t, err, "overlapping prefixes must be rejected")

	c, err := NewClassifier("t=", "v=")
	require.NoError(t, err)
	assert.Equal(t, "T=", c.InternalPrefix())
	assert.Equal(t, "V=", c.ActionPrefix())
}

func TestIsInternal(t *testing.T) {
	c := newTestClassifier(t)
	assert.True(t, c.IsInternal("T=5"))
	assert.False(t, c.IsInternal("V=AUDIT"))
	assert.False(t, c.IsInternal("5"))
}
