package migrate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
	"github.com/kibela/kibela-to-kibela/pkg/logging"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

// fakeRequester routes calls to a per-test handler and records them.
type fakeRequester struct {
	handler func(op *ops.Operation, variables map[string]any) (*kibela.Response, error)
	calls   []recordedCall
}

type recordedCall struct {
	Operation string
	Variables map[string]any
}

func (f *fakeRequester) Request(_ context.Context, op *ops.Operation, variables map[string]any) (*kibela.Response, error) {
	f.calls = append(f.calls, recordedCall{Operation: op.Name(), Variables: variables})
	return f.handler(op, variables)
}

func (f *fakeRequester) operations() []string {
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Operation
	}
	return names
}

// dataResponse builds a success response from a JSON literal.
func dataResponse(t *testing.T, body string) *kibela.Response {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &data))
	return &kibela.Response{Data: data}
}

func openTestLog(t *testing.T) *translog.Log {
	t.Helper()
	log, err := translog.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

var testLogger = logging.Nop
