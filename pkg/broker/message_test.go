package broker_test

import (
	"testing"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/test"
)

type MessageSuite struct {
	test.Suite
}

func TestMessageSuite(t *testing.T) {
	test.Run(t, new(MessageSuite))
}

func (s *MessageSuite) TestEncodeNilIsEmptyWithNoContentType() {
	body, contentType, err := broker.Encode(nil)
	s.NoError(err)
	s.Empty(body)
	s.Empty(contentType)
}

func (s *MessageSuite) TestEncodeBytesPassThroughVerbatim() {
	body, contentType, err := broker.Encode([]byte("raw-bytes"))
	s.NoError(err)
	s.Equal("raw-bytes", string(body))
	s.Empty(contentType)
}

func (s *MessageSuite) TestEncodeStringIsTextPlain() {
	body, contentType, err := broker.Encode("hello")
	s.NoError(err)
	s.Equal("hello", string(body))
	s.Equal(broker.ContentTypeText, contentType)
}

func (s *MessageSuite) TestEncodeStructIsJSON() {
	type payload struct {
		Name string `json:"name"`
	}
	body, contentType, err := broker.Encode(payload{Name: "ping"})
	s.NoError(err)
	s.Equal(broker.ContentTypeJSON, contentType)
	s.JSONEq(`{"name":"ping"}`, string(body))
}

func (s *MessageSuite) TestEncodeChannelIsUnsupported() {
	_, _, err := broker.Encode(make(chan int))
	s.Error(err)
}

func (s *MessageSuite) TestDecodeEmptyBodyIsNil() {
	msg := broker.NewCanonicalMessage(nil, "", "", "", "", nil, nil)
	s.Nil(broker.Decode(msg))
}

func (s *MessageSuite) TestDecodeJSONContentTypeDecodesStructuredValue() {
	msg := broker.NewCanonicalMessage([]byte(`{"name":"ping"}`), broker.ContentTypeJSON, "", "", "", nil, nil)
	decoded, ok := broker.Decode(msg).(map[string]any)
	s.True(ok)
	s.Equal("ping", decoded["name"])
}

func (s *MessageSuite) TestDecodeNeverErrorsOnGarbageJSON() {
	msg := broker.NewCanonicalMessage([]byte(`not json`), broker.ContentTypeJSON, "", "", "", nil, nil)
	s.Equal("not json", broker.Decode(msg))
}

func (s *MessageSuite) TestNewCanonicalMessageGeneratesMessageIDWhenAbsent() {
	msg := broker.NewCanonicalMessage([]byte("x"), "", "", "", "", nil, nil)
	s.NotEmpty(msg.MessageID)
}
