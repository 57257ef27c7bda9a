package broker

import (
	"encoding/json"
	"reflect"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Content-type labels carried in the "content-type" header (or a
// transport-native attribute where the driver has no headers).
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// CanonicalMessage is the transport-neutral form of an inbound message
// passed to handlers. message_id is never empty once NewCanonicalMessage has run;
// content_type, reply_to, and correlation_id are either absent (zero
// value) or non-empty strings. Body is always present, possibly
// zero-length.
type CanonicalMessage struct {
	Body          []byte
	ContentType   string
	MessageID     string
	CorrelationID string
	ReplyTo       string
	Headers       map[string]string

	// Raw is the transport-native frame, opaque to the core, needed by
	// the driver's Ack/Nack calls.
	Raw any
}

// NewCanonicalMessage builds a CanonicalMessage, generating a
// message_id when the transport did not supply one. It is the
// constructor every adapter should use when turning a native frame
// into the canonical form.
func NewCanonicalMessage(body []byte, contentType, messageID, correlationID, replyTo string, headers map[string]string, raw any) *CanonicalMessage {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &CanonicalMessage{
		Body:          body,
		ContentType:   contentType,
		MessageID:     messageID,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		Headers:       headers,
		Raw:           raw,
	}
}

// Encode turns a user value into wire bytes plus a content-type label:
//   - nil -> empty bytes, no content-type
//   - []byte -> verbatim, no content-type
//   - string -> UTF-8 bytes, text/plain
//   - map/slice/array/struct/pointer (and numeric/bool scalars) -> JSON, application/json
//   - anything else -> ErrEncodeUnsupported
func Encode(value any) ([]byte, string, error) {
	if value == nil {
		return []byte{}, "", nil
	}

	switch v := value.(type) {
	case []byte:
		return v, "", nil
	case string:
		return []byte(v), ContentTypeText, nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool, reflect.Ptr:
		body, err := json.Marshal(value)
		if err != nil {
			return nil, "", ErrEncodeUnsupported()
		}
		return body, ContentTypeJSON, nil
	default:
		return nil, "", ErrEncodeUnsupported()
	}
}

// Decode turns a CanonicalMessage body into a value for dispatch to
// handlers. Decode is total: it never errors, falling
// back to a raw string or raw bytes in the worst case.
func Decode(msg *CanonicalMessage) any {
	if len(msg.Body) == 0 {
		return nil
	}

	switch msg.ContentType {
	case ContentTypeJSON:
		return decodeJSONOrString(msg.Body)
	case ContentTypeText:
		return decodeUTF8OrBytes(msg.Body)
	default:
		if v, ok := tryDecodeJSON(msg.Body); ok {
			return v
		}
		return decodeUTF8OrBytes(msg.Body)
	}
}

func decodeJSONOrString(body []byte) any {
	if v, ok := tryDecodeJSON(body); ok {
		return v
	}
	return string(body)
}

func tryDecodeJSON(body []byte) (any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	return v, true
}

func decodeUTF8OrBytes(body []byte) any {
	// Valid UTF-8 decodes to a string; anything else is passed through
	// as the raw bytes.
	if utf8.Valid(body) {
		return string(body)
	}
	return body
}
