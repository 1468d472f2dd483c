// Package wire encodes GraphQL request envelopes and decodes response
// bodies in the two content types the Kibela API speaks: JSON and
// MessagePack. The format is selected by exact MIME type comparison;
// there is no wildcard negotiation.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/vmihailenco/msgpack/v5"
)

// Supported content types.
const (
	FormatJSON    = "application/json"
	FormatMsgpack = "application/x-msgpack"
)

// CodeUnrecognizedContentType tags the synthesized error record returned by
// Unmarshal when the remote responds with a content type outside the two
// supported formats (e.g. an HTML maintenance page).
const CodeUnrecognizedContentType = "UNRECOGNIZED_CONTENT_TYPE"

// ErrUnsupportedFormat is returned by Marshal for a MIME type outside the
// two supported formats. This is a configuration error and is never retried.
var ErrUnsupportedFormat = errors.New("unsupported wire format")

// Envelope is the request body sent to the GraphQL endpoint. It is
// serialized once per logical call; retries of the same call reuse the
// identical bytes.
type Envelope struct {
	Query         string         `json:"query" msgpack:"query"`
	OperationName string         `json:"operationName" msgpack:"operationName"`
	Variables     map[string]any `json:"variables" msgpack:"variables"`
}

// Marshal encodes the envelope in the given format.
func Marshal(format string, env *Envelope) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(env)
	case FormatMsgpack:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Unmarshal decodes a response body according to its content type. The
// reader may deliver the body in arbitrary chunks; both decoders consume it
// as a stream. Content type parameters (charset etc.) are ignored.
//
// An unrecognized content type is not an error here: the remote has
// misbehaved, and the caller's error handling for GraphQL error payloads
// should apply uniformly. Unmarshal synthesizes an error-shaped body
// carrying CodeUnrecognizedContentType along with the raw body text.
func Unmarshal(contentType string, r io.Reader) (map[string]any, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch mediaType {
	case FormatJSON:
		var out map[string]any
		if err := json.NewDecoder(r).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s body: %w", mediaType, err)
		}
		return out, nil
	case FormatMsgpack:
		var out map[string]any
		if err := msgpack.NewDecoder(r).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode %s body: %w", mediaType, err)
		}
		return out, nil
	default:
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, io.LimitReader(r, 1<<20))
		return map[string]any{
			"errors": []any{
				map[string]any{
					"message": fmt.Sprintf("unrecognized content type %q", contentType),
					"extensions": map[string]any{
						"code":        CodeUnrecognizedContentType,
						"contentType": contentType,
						"body":        buf.String(),
					},
				},
			},
		}, nil
	}
}

// Supported reports whether format is one of the two wire formats.
func Supported(format string) bool {
	return format == FormatJSON || format == FormatMsgpack
}
