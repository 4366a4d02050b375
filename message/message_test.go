package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/uri"
)

var (
	topic   = uri.MustParse("//ecu/1236/1/8001")
	client  = uri.MustParse("//host/4321/1/0")
	method  = uri.MustParse("//ecu/1236/1/7")
	handler = uri.MustParse("//host/55/1/0")
)

func TestBuilders(t *testing.T) {
	pub := NewPublish(topic, []byte("x"), WithFormat(FormatJSON))
	assert.Equal(t, KindPublish, pub.Kind)
	assert.Nil(t, pub.Sink)
	assert.Equal(t, FormatJSON, pub.Format)
	assert.Equal(t, uuid.Version(7), pub.ID.Version())
	require.NoError(t, pub.Validate())

	note := NewNotification(topic, handler, nil)
	require.NotNil(t, note.Sink)
	assert.Equal(t, handler, *note.Sink)
	require.NoError(t, note.Validate())

	req := NewRequest(client, method, time.Second, []byte("ping"), WithPriority(3))
	assert.Equal(t, time.Second, req.TTL)
	require.NoError(t, req.Validate())

	resp := NewResponse(req, []byte("pong"))
	assert.Equal(t, method, resp.Source)
	assert.Equal(t, client, *resp.Sink)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.Equal(t, uint8(3), resp.Priority)
	require.NoError(t, resp.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	sink := handler
	tests := []struct {
		name string
		msg  *Message
	}{
		{"publish with sink", &Message{ID: NewID(), Kind: KindPublish, Source: topic, Sink: &sink}},
		{"publish from method", NewPublish(method, nil)},
		{"notification without sink", &Message{ID: NewID(), Kind: KindNotification, Source: topic}},
		{"request without sink", &Message{ID: NewID(), Kind: KindRequest, Source: client, TTL: time.Second}},
		{"request without ttl", NewRequest(client, method, 0, nil)},
		{"request to topic", NewRequest(client, topic, time.Second, nil)},
		{"response without request id", &Message{ID: NewID(), Kind: KindResponse, Source: method, Sink: &sink}},
		{"missing id", &Message{Kind: KindPublish, Source: topic}},
		{"missing source", &Message{ID: NewID(), Kind: KindPublish}},
		{"wildcard source", NewPublish(uri.AnyIn("ecu").WithResource(0x8001), nil)},
		{"unknown kind", &Message{ID: NewID(), Source: topic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
		})
	}
}

func TestExpired(t *testing.T) {
	msg := NewRequest(client, method, 100*time.Millisecond, nil)
	created := msg.CreatedAt()
	require.False(t, created.IsZero())
	assert.WithinDuration(t, time.Now(), created, time.Second)

	assert.False(t, msg.Expired(created.Add(50*time.Millisecond)))
	assert.True(t, msg.Expired(created.Add(time.Second)))

	noTTL := NewPublish(topic, nil)
	assert.False(t, noTTL.Expired(time.Now().Add(time.Hour)))

	// Non-v7 IDs carry no creation time
	legacy := NewPublish(topic, nil, WithID(uuid.New()), WithTTL(time.Millisecond))
	assert.True(t, legacy.CreatedAt().IsZero())
	assert.False(t, legacy.Expired(time.Now().Add(time.Hour)))
}

func TestClone(t *testing.T) {
	orig := NewNotification(topic, handler, []byte("p"))
	c := orig.Clone()
	c.Source = c.Source.WithAuthority("host")
	c.Sink.Authority = "elsewhere"

	assert.Equal(t, "ecu", orig.Source.Authority)
	assert.Equal(t, "host", orig.Sink.Authority)
	assert.Equal(t, orig.ID, c.ID)
}

func TestKind(t *testing.T) {
	for _, k := range []Kind{KindPublish, KindRequest, KindResponse, KindNotification} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	parsed, err := ParseKind("PUBLISH")
	require.NoError(t, err)
	assert.Equal(t, KindPublish, parsed)

	_, err = ParseKind("broadcast")
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	assert.True(t, KindRequest.IsPointToPoint())
	assert.True(t, KindResponse.IsPointToPoint())
	assert.False(t, KindPublish.IsPointToPoint())
	assert.False(t, KindNotification.IsPointToPoint())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestString(t *testing.T) {
	pub := NewPublish(topic, nil)
	assert.Contains(t, pub.String(), "publish //ecu/1236/1/8001")
	note := NewNotification(topic, handler, nil)
	assert.Contains(t, note.String(), "-> //host/55/1/0")
}
