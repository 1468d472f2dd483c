// Package archive reads an unzipped Kibela export directory. Notes are
// markdown files with a YAML front matter block; attachments live under
// attachments/. Malformed entries are reported and skipped so one bad file
// never aborts a migration.
package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Meta is a note's front matter.
type Meta struct {
	Title       string    `yaml:"title"`
	Author      string    `yaml:"author"`
	Groups      []string  `yaml:"groups"`
	Folders     []string  `yaml:"folders"`
	PublishedAt string    `yaml:"published_at"`
	Comments    []Comment `yaml:"comments"`
}

// Comment is an exported comment carried in the note's front matter.
type Comment struct {
	Author      string `yaml:"author"`
	Content     string `yaml:"content"`
	PublishedAt string `yaml:"published_at"`
}

// Note is one exported note.
type Note struct {
	// Path is the slash-separated path inside the archive.
	Path string
	Meta Meta
	Body string
}

// Attachment is one exported binary file, read lazily.
type Attachment struct {
	// Path is the slash-separated path inside the archive.
	Path string
	// Name is the base file name.
	Name string
}

// Problem reports a skipped entry.
type Problem struct {
	Path string
	Err  error
}

// Archive is an opened export directory.
type Archive struct {
	root string
	fsys fs.FS
}

// Open validates that root exists and is a directory.
func Open(root string) (*Archive, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open archive: %s is not a directory", root)
	}
	return &Archive{root: root, fsys: os.DirFS(root)}, nil
}

// Root returns the archive directory.
func (a *Archive) Root() string { return a.root }

// Notes walks notes/**/*.md, parses each file, and returns the parsed
// notes plus the entries that could not be parsed.
func (a *Archive) Notes() ([]Note, []Problem, error) {
	paths, err := doublestar.Glob(a.fsys, "notes/**/*.md")
	if err != nil {
		return nil, nil, fmt.Errorf("walk notes: %w", err)
	}

	var notes []Note
	var problems []Problem
	for _, p := range paths {
		raw, err := fs.ReadFile(a.fsys, p)
		if err != nil {
			problems = append(problems, Problem{Path: p, Err: err})
			continue
		}
		note, err := parseNote(p, string(raw))
		if err != nil {
			problems = append(problems, Problem{Path: p, Err: err})
			continue
		}
		notes = append(notes, note)
	}
	return notes, problems, nil
}

// Attachments lists every file under attachments/.
func (a *Archive) Attachments() ([]Attachment, error) {
	paths, err := doublestar.Glob(a.fsys, "attachments/**")
	if err != nil {
		return nil, fmt.Errorf("walk attachments: %w", err)
	}
	var attachments []Attachment
	for _, p := range paths {
		info, err := fs.Stat(a.fsys, p)
		if err != nil || info.IsDir() {
			continue
		}
		attachments = append(attachments, Attachment{Path: p, Name: path.Base(p)})
	}
	return attachments, nil
}

// ReadAttachment returns an attachment's bytes.
func (a *Archive) ReadAttachment(p string) ([]byte, error) {
	return os.ReadFile(filepath.Join(a.root, filepath.FromSlash(p)))
}

var noteIDPattern = regexp.MustCompile(`^(\d+)`)

// SourceID extracts the numeric note id Kibela prefixes export file names
// with ("notes/group/123-title.md" -> "123"). Empty when absent.
func (n Note) SourceID() string {
	return noteIDPattern.FindString(path.Base(n.Path))
}

const frontMatterFence = "---\n"

// parseNote splits the front matter block from the markdown body.
func parseNote(p, raw string) (Note, error) {
	if !strings.HasPrefix(raw, frontMatterFence) {
		return Note{}, fmt.Errorf("missing front matter")
	}
	rest := raw[len(frontMatterFence):]
	end := strings.Index(rest, "\n"+frontMatterFence)
	if end < 0 {
		return Note{}, fmt.Errorf("unterminated front matter")
	}

	var meta Meta
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return Note{}, fmt.Errorf("parse front matter: %w", err)
	}
	if meta.Title == "" {
		return Note{}, fmt.Errorf("front matter has no title")
	}

	body := strings.TrimPrefix(rest[end+1+len(frontMatterFence):], "\n")
	return Note{Path: p, Meta: meta, Body: body}, nil
}
