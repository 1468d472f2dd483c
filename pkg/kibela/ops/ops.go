// Package ops holds the GraphQL operations the migration scripts send to
// Kibela. Each operation is parsed once at startup; the client extracts the
// operation name from the parsed document for the wire protocol and for
// tagging request URLs.
package ops

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Operation is an immutable named request template: the source text of a
// query or mutation plus its parsed document.
type Operation struct {
	name   string
	source string
	doc    *ast.QueryDocument
}

// New parses source and returns an Operation. The operation name may be
// empty when the document has no named executable operation; the transport
// client rejects such operations before any network call.
func New(source string) (*Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, fmt.Errorf("parse operation: %w", err)
	}
	return &Operation{
		name:   operationName(doc),
		source: source,
		doc:    doc,
	}, nil
}

// MustNew is New for the static catalog below. Panics on a parse error.
func MustNew(source string) *Operation {
	op, err := New(source)
	if err != nil {
		panic(err)
	}
	return op
}

// Name returns the extracted operation name, or "" if the document carries
// no named executable operation.
func (o *Operation) Name() string { return o.name }

// Source returns the operation text as sent over the wire.
func (o *Operation) Source() string { return o.source }

// Document returns the parsed query document.
func (o *Operation) Document() *ast.QueryDocument { return o.doc }

// operationName scans the document's executable operations (fragments are
// not operations) and returns the first explicit name found.
func operationName(doc *ast.QueryDocument) string {
	for _, op := range doc.Operations {
		if op.Name != "" {
			return op.Name
		}
	}
	return ""
}
