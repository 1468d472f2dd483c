package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

func testMapping() map[string]translog.Destination {
	return map[string]translog.Destination{
		"notes/engineering/123-runbook.md": {
			RemoteID: "N1",
			Path:     "/notes/900",
			URL:      "https://dest.kibela.com/notes/900",
		},
		"attachments/flow.png": {
			RemoteID: "A1",
			Path:     "/attachments/9001.png",
			URL:      "https://dest.kibela.com/attachments/9001.png",
		},
	}
}

func TestRewriteAbsoluteNoteURL(t *testing.T) {
	r := NewRewriter("src", testMapping())
	out, changed := r.Rewrite("See https://src.kibela.com/notes/123 for details.")
	assert.True(t, changed)
	assert.Equal(t, "See https://dest.kibela.com/notes/900 for details.", out)
}

func TestRewriteRelativeReferences(t *testing.T) {
	r := NewRewriter("src", testMapping())
	out, changed := r.Rewrite("[runbook](/notes/123) and ![flow](/attachments/flow.png)")
	assert.True(t, changed)
	assert.Equal(t, "[runbook](/notes/900) and ![flow](/attachments/9001.png)", out)
}

func TestRewriteUnknownReferencesUntouched(t *testing.T) {
	r := NewRewriter("src", testMapping())
	content := "See /notes/999 and /attachments/missing.png and https://other.kibela.com/notes/123."
	out, changed := r.Rewrite(content)
	assert.False(t, changed)
	assert.Equal(t, content, out)
}

func TestRewriteNoteIDBoundary(t *testing.T) {
	r := NewRewriter("src", testMapping())
	// /notes/1234 must not match the mapping for note 123.
	out, changed := r.Rewrite("see /notes/1234")
	assert.False(t, changed)
	assert.Equal(t, "see /notes/1234", out)
}

func TestRewriteEmptyMapping(t *testing.T) {
	r := NewRewriter("src", nil)
	out, changed := r.Rewrite("nothing to do at /notes/123")
	assert.False(t, changed)
	assert.Equal(t, "nothing to do at /notes/123", out)
}
