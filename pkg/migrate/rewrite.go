package migrate

import (
	"path"
	"regexp"
	"strings"

	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

// Rewriter rewrites cross-references in migrated note bodies: links to
// source-team notes and attachment paths become their destination
// equivalents. References with no known destination are left untouched.
type Rewriter struct {
	srcHost     string
	notes       map[string]translog.Destination // source note id -> destination
	attachments map[string]translog.Destination // archive path -> destination
	noteRef     *regexp.Regexp
	attRef      *regexp.Regexp
}

var sourceIDPattern = regexp.MustCompile(`^(\d+)`)

// NewRewriter indexes the batch mapping (translog.Mapping output) for the
// given source team.
func NewRewriter(srcTeam string, mapping map[string]translog.Destination) *Rewriter {
	r := &Rewriter{
		notes:       make(map[string]translog.Destination),
		attachments: make(map[string]translog.Destination),
	}
	for src, dst := range mapping {
		switch {
		case strings.HasPrefix(src, "notes/"):
			if id := sourceIDPattern.FindString(path.Base(src)); id != "" {
				r.notes[id] = dst
			}
		case strings.HasPrefix(src, "attachments/"):
			r.attachments[src] = dst
		}
	}

	// Match any kibela host so another team's URLs are recognized and
	// left alone rather than partially rewritten.
	r.srcHost = "https://" + srcTeam + ".kibela.com"
	const host = `(https://[0-9A-Za-z-]+\.kibela\.com)?`
	r.noteRef = regexp.MustCompile(host + `/notes/(\d+)\b`)
	r.attRef = regexp.MustCompile(host + `/attachments/([0-9A-Za-z][0-9A-Za-z._/-]*)`)
	return r
}

// Rewrite returns the content with known references replaced and reports
// whether anything changed.
func (r *Rewriter) Rewrite(content string) (string, bool) {
	out := r.noteRef.ReplaceAllStringFunc(content, func(match string) string {
		sub := r.noteRef.FindStringSubmatch(match)
		if sub[1] != "" && sub[1] != r.srcHost {
			return match
		}
		dst, ok := r.notes[sub[2]]
		if !ok {
			return match
		}
		if sub[1] != "" && dst.URL != "" {
			return dst.URL
		}
		if dst.Path != "" {
			return dst.Path
		}
		return match
	})
	out = r.attRef.ReplaceAllStringFunc(out, func(match string) string {
		sub := r.attRef.FindStringSubmatch(match)
		if sub[1] != "" && sub[1] != r.srcHost {
			return match
		}
		dst, ok := r.attachments["attachments/"+sub[2]]
		if !ok {
			return match
		}
		if sub[1] != "" && dst.URL != "" {
			return dst.URL
		}
		if dst.Path != "" {
			return dst.Path
		}
		return match
	})
	return out, out != content
}
