package kibela

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/wire"
)

// fakeDoer returns one scripted result per attempt and records requests.
type fakeDoer struct {
	script  []fakeResult
	calls   int
	reqs    []*http.Request
	bodies  [][]byte
	lastOut fakeResult
}

type fakeResult struct {
	resp *http.Response
	err  error
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	d.reqs = append(d.reqs, req)
	d.bodies = append(d.bodies, body)

	out := d.lastOut
	if d.calls < len(d.script) {
		out = d.script[d.calls]
		d.lastOut = out
	}
	d.calls++
	return out.resp, out.err
}

func jsonResponse(status int, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", wire.FormatJSON)
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

const successBody = `{"data":{"currentUser":{"account":"alice","realName":"Alice"}}}`

func budgetBody(code string, waitMs int) string {
	return fmt.Sprintf(`{"errors":[{"message":"budget exhausted","extensions":{"code":%q,"waitMilliseconds":%d}}]}`, code, waitMs)
}

// newTestClient builds a client whose sleeps are recorded instead of slept.
func newTestClient(t *testing.T, doer HTTPDoer, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	cfg.Team = "source"
	cfg.AccessToken = "token"
	cfg.HTTPClient = doer
	c, err := NewClient(cfg)
	require.NoError(t, err)

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{AccessToken: "token"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewClient(Config{Team: "source"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewClient(Config{Team: "source", AccessToken: "token", Format: "application/xml"})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, wire.ErrUnsupportedFormat)
}

func TestNewClientDerivesEndpoint(t *testing.T) {
	c, err := NewClient(Config{Team: "myteam", AccessToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, "https://myteam.kibela.com/api/v1", c.Endpoint())
}

func TestRequestSuccess(t *testing.T) {
	resp := jsonResponse(http.StatusOK, successBody)
	resp.Header.Set("X-Runtime", "0.125")
	doer := &fakeDoer{script: []fakeResult{{resp: resp}}}
	c, _ := newTestClient(t, doer, Config{})

	result, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)

	account, err := PluckString(result.Data, "$.currentUser.account")
	require.NoError(t, err)
	assert.Equal(t, "alice", account)

	assert.Equal(t, wire.FormatJSON, result.Meta.ContentType)
	assert.Equal(t, 1, result.Meta.Timing.Attempts)
	assert.Equal(t, 125*time.Millisecond, result.Meta.Timing.ServerRuntime)
}

func TestRequestHeadersAndURL(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{{resp: jsonResponse(http.StatusOK, successBody)}}}
	c, _ := newTestClient(t, doer, Config{UserAgent: "kibela-to-kibela/test"})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)

	req := doer.reqs[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "operation=Ping", req.URL.RawQuery)
	assert.Equal(t, wire.FormatJSON, req.Header.Get("Content-Type"))
	assert.Equal(t, wire.FormatJSON, req.Header.Get("Accept"))
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	assert.Equal(t, "kibela-to-kibela/test", req.Header.Get("User-Agent"))
}

func TestRequestMsgpackFormat(t *testing.T) {
	body := map[string]any{"data": map[string]any{"currentUser": map[string]any{"account": "alice"}}}
	raw, err := msgpack.Marshal(body)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Content-Type", wire.FormatMsgpack)
	doer := &fakeDoer{script: []fakeResult{{resp: &http.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}}}}
	c, _ := newTestClient(t, doer, Config{Format: wire.FormatMsgpack})

	result, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)
	assert.Equal(t, wire.FormatMsgpack, result.Meta.ContentType)

	req := doer.reqs[0]
	assert.Equal(t, wire.FormatMsgpack, req.Header.Get("Content-Type"))
	assert.Equal(t, wire.FormatMsgpack+", "+wire.FormatJSON, req.Header.Get("Accept"))
}

func TestRequestMissingOperationName(t *testing.T) {
	doer := &fakeDoer{}
	c, _ := newTestClient(t, doer, Config{RetryCount: 3})

	anon, err := ops.New(`{ currentUser { account } }`)
	require.NoError(t, err)

	_, err = c.Request(context.Background(), anon, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, doer.calls, "no network call may be made for an unnamed operation")
}

func TestRequestExhaustsRetries(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{{err: errors.New("connection reset")}}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 2})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 3, netErr.Attempts)
	assert.Len(t, netErr.Causes, 3)
	assert.Equal(t, 3, doer.calls)
}

func TestRequestBackoffAfterNetworkError(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
	}}
	c, sleeps := newTestClient(t, doer, Config{RetryCount: 2})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.Error(t, err)

	// Fresh client: no sleep before the first attempt, then the floored
	// exponential backoff.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 2*time.Second, (*sleeps)[0])
	assert.Equal(t, 4*time.Second, (*sleeps)[1])
}

func TestRequestBudgetExhaustedHonorsWait(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{
		{resp: jsonResponse(http.StatusOK, budgetBody(CodeTokenBudgetExhausted, 500))},
		{resp: jsonResponse(http.StatusOK, successBody)},
	}}
	c, sleeps := newTestClient(t, doer, Config{RetryCount: 1})

	result, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Meta.Timing.Attempts)

	require.Len(t, *sleeps, 1)
	assert.GreaterOrEqual(t, (*sleeps)[0], 500*time.Millisecond)
}

func TestRequestBudgetErrorOnFinalAttempt(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{
		{resp: jsonResponse(http.StatusOK, budgetBody(CodeTeamBudgetExhausted, 250))},
	}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 0})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	require.Len(t, gqlErr.Errors, 1)
	assert.Equal(t, CodeTeamBudgetExhausted, gqlErr.Errors[0].Code())
}

func TestRequestTerminalGraphQLError(t *testing.T) {
	body := `{"errors":[{"message":"title can't be blank","extensions":{"code":"VALIDATION_ERROR"}}]}`
	doer := &fakeDoer{script: []fakeResult{{resp: jsonResponse(http.StatusOK, body)}}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 5})

	vars := map[string]any{"input": map[string]any{"title": ""}}
	_, err := c.Request(context.Background(), ops.CreateNote, vars)

	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	assert.Equal(t, 1, doer.calls, "application errors are terminal, not retried")
	assert.Equal(t, "title can't be blank", gqlErr.Message)
	assert.Equal(t, ops.CreateNote.Source(), gqlErr.Query)
	assert.Equal(t, vars, gqlErr.Variables)
	assert.False(t, IsNotFound(err))
}

func TestRequestNotFound(t *testing.T) {
	body := `{"errors":[{"message":"note not found","extensions":{"code":"NOT_FOUND"}}]}`
	doer := &fakeDoer{script: []fakeResult{{resp: jsonResponse(http.StatusOK, body)}}}
	c, _ := newTestClient(t, doer, Config{})

	_, err := c.Request(context.Background(), ops.DeleteNote, map[string]any{"input": map[string]any{"id": "gone"}})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRequestUnrecognizedContentType(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	doer := &fakeDoer{script: []fakeResult{{resp: &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString("<html>maintenance</html>")),
	}}}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 3})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	require.Len(t, gqlErr.Errors, 1)
	assert.Equal(t, wire.CodeUnrecognizedContentType, gqlErr.Errors[0].Code())
	assert.Equal(t, 1, doer.calls)
}

func TestRequestAmbiguousResponseKeepsRetrying(t *testing.T) {
	// HTTP success without a data field is neither success nor a GraphQL
	// error; it burns the retry budget and surfaces as a NetworkError.
	doer := &fakeDoer{script: []fakeResult{
		{resp: jsonResponse(http.StatusOK, `{}`)},
		{resp: jsonResponse(http.StatusAccepted, `{"ok":true}`)},
	}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 1})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 2, netErr.Attempts)
	assert.Len(t, netErr.Causes, 2)
}

func TestRequestSuccessStopsRetrying(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{{resp: jsonResponse(http.StatusOK, successBody)}}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 9})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, doer.calls)
}

func TestRequestSuccessResetsDelay(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{
		{err: errors.New("connection refused")},
		{resp: jsonResponse(http.StatusOK, successBody)},
		{resp: jsonResponse(http.StatusOK, successBody)},
	}}
	c, sleeps := newTestClient(t, doer, Config{RetryCount: 1, LeastDelay: 50 * time.Millisecond})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)

	// The next logical call starts at the configured least delay, not at
	// the backed-off value.
	_, err = c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)

	require.Len(t, *sleeps, 2)
	assert.Equal(t, 2*time.Second, (*sleeps)[0], "backoff within the first call")
	assert.Equal(t, 50*time.Millisecond, (*sleeps)[1], "reset delay before the second call")
}

func TestRequestEndToEndRecovery(t *testing.T) {
	payload := `{"data":{"createNote":{"note":{"id":"QmxvZy8zNDM","path":"/notes/343","url":"https://dest.kibela.com/notes/343","title":"t"}}}}`
	doer := &fakeDoer{script: []fakeResult{
		{err: errors.New("read: connection reset by peer")},
		{resp: jsonResponse(http.StatusOK, budgetBody(CodeTokenBudgetExhausted, 500))},
		{resp: jsonResponse(http.StatusOK, payload)},
	}}
	c, sleeps := newTestClient(t, doer, Config{RetryCount: 2, LeastDelay: 50 * time.Millisecond})

	result, err := c.Request(context.Background(), ops.CreateNote, map[string]any{"input": map[string]any{"title": "t"}})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Meta.Timing.Attempts)
	assert.Equal(t, 3, doer.calls)

	id, err := PluckString(result.Data, "$.createNote.note.id")
	require.NoError(t, err)
	assert.Equal(t, "QmxvZy8zNDM", id)

	// Backoff floor after the network blip, then the remote-suggested wait.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 2*time.Second, (*sleeps)[0])
	assert.Equal(t, 500*time.Millisecond, (*sleeps)[1])
}

func TestRequestSerializesOnce(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{resp: jsonResponse(http.StatusOK, successBody)},
	}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 2})

	_, err := c.Request(context.Background(), ops.Ping, nil)
	require.NoError(t, err)

	require.Len(t, doer.bodies, 3)
	assert.Equal(t, doer.bodies[0], doer.bodies[1])
	assert.Equal(t, doer.bodies[1], doer.bodies[2])
}

func TestRequestContextCancelledDuringWait(t *testing.T) {
	doer := &fakeDoer{script: []fakeResult{{err: errors.New("timeout")}}}
	c, _ := newTestClient(t, doer, Config{RetryCount: 3})
	c.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Request(ctx, ops.Ping, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
