// Package migrate implements the import, unimport, and fixup flows on top
// of the kibela client and the transaction log. All three tolerate
// per-item failures: one bad note is logged and counted, the batch keeps
// going.
package migrate

import (
	"context"
	"encoding/json"

	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
)

// Requester is the slice of the kibela client the flows need; tests
// substitute a fake.
type Requester interface {
	Request(ctx context.Context, op *ops.Operation, variables map[string]any) (*kibela.Response, error)
}

// payloadJSON serializes request variables for the transaction log so a
// failed or duplicated item can be reproduced later.
func payloadJSON(variables map[string]any) string {
	raw, err := json.Marshal(variables)
	if err != nil {
		return ""
	}
	return string(raw)
}
