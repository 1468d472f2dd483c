package kibela

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration marks caller bugs and bad client configuration: a
// missing operation name, an unsupported wire format, missing credentials.
// These fail immediately and are never retried.
var ErrConfiguration = errors.New("configuration error")

// Error codes the provider is known to send in ErrorRecord extensions.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeTokenBudgetExhausted = "TOKEN_BUDGET_EXHAUSTED"
	CodeTeamBudgetExhausted  = "TEAM_BUDGET_EXHAUSTED"
)

// ErrorRecord is one entry in a GraphQL response's errors array.
type ErrorRecord struct {
	Message    string
	Extensions map[string]any
}

// Code returns extensions.code, or "".
func (r ErrorRecord) Code() string {
	if r.Extensions == nil {
		return ""
	}
	code, _ := r.Extensions["code"].(string)
	return code
}

// GraphQLError means the remote executed the request and reported
// application-level errors. It carries everything needed to reproduce the
// failing call without re-running a whole batch.
type GraphQLError struct {
	Message   string
	Query     string
	Variables map[string]any
	Errors    []ErrorRecord
}

func (e *GraphQLError) Error() string {
	if len(e.Errors) > 1 {
		return fmt.Sprintf("graphql: %s (and %d more)", e.Message, len(e.Errors)-1)
	}
	return "graphql: " + e.Message
}

// IsNotFound reports whether err is a GraphQLError carrying a NOT_FOUND
// code. Idempotent-delete workflows treat this as a soft condition.
func IsNotFound(err error) bool {
	var gqlErr *GraphQLError
	if !errors.As(err, &gqlErr) {
		return false
	}
	for _, rec := range gqlErr.Errors {
		if rec.Code() == CodeNotFound {
			return true
		}
	}
	return false
}

// NetworkError means no usable response was obtained after exhausting
// retries. Causes holds the underlying transport failures in attempt order.
type NetworkError struct {
	Attempts int
	Causes   []error
}

func (e *NetworkError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("network: no usable response after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("network: no usable response after %d attempt(s), last: %v",
		e.Attempts, e.Causes[len(e.Causes)-1])
}

// Unwrap exposes the transport failures to errors.Is/errors.As.
func (e *NetworkError) Unwrap() []error { return e.Causes }

// parseErrorRecords converts the decoded errors field into typed records.
// Shapes outside the expected one are kept as best-effort records rather
// than dropped, so diagnostics survive a misbehaving provider.
func parseErrorRecords(v any) []ErrorRecord {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	records := make([]ErrorRecord, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			records = append(records, ErrorRecord{Message: fmt.Sprintf("%v", item)})
			continue
		}
		rec := ErrorRecord{}
		rec.Message, _ = m["message"].(string)
		if ext, ok := m["extensions"].(map[string]any); ok {
			rec.Extensions = ext
		}
		records = append(records, rec)
	}
	return records
}

// budgetWait recognizes the provider's rate-limit signal: a response whose
// sole error carries a budget-exhausted code. It returns the remote's
// suggested wait. Any other error combination is terminal.
func budgetWait(records []ErrorRecord, fallback time.Duration) (time.Duration, bool) {
	if len(records) != 1 {
		return 0, false
	}
	switch records[0].Code() {
	case CodeTokenBudgetExhausted, CodeTeamBudgetExhausted:
	default:
		return 0, false
	}
	if ms, ok := numericValue(records[0].Extensions["waitMilliseconds"]); ok && ms > 0 {
		return time.Duration(ms * float64(time.Millisecond)), true
	}
	return fallback, true
}

// numericValue coerces the numeric types the two decoders produce.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
