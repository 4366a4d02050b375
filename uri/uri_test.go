package uri

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want URI
	}{
		{"//topic_authority/1236/1/8001", New("topic_authority", 0x1236, 1, 0x8001)},
		{"//subscriber_authority/1234/1/0", New("subscriber_authority", 0x1234, 1, 0)},
		{"/1236/1/8001", New("", 0x1236, 1, 0x8001)},
		{"//*/FFFF/FF/FFFF", Any()},
		{"//vehicle.local/10AB1234/2/7fff", New("vehicle.local", 0x10AB1234, 2, 0x7FFF)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"topic/1/1/1",
		"//",
		"//auth",
		"///1/1/1",
		"//auth/1/1",
		"//auth/1/1/1/1",
		"//auth/zz/1/1",
		"//auth/1/100/1",
		"//auth/1/1/10000",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
			assert.ErrorIs(t, err, errors.ErrInvalidURI)
		})
	}
}

func TestString_RoundTrip(t *testing.T) {
	for _, u := range []URI{
		New("topic_authority", 0x1236, 1, 0x8001),
		New("", 0x1, 0x2, 0x3),
		Any(),
	} {
		parsed, err := Parse(u.String())
		require.NoError(t, err)
		assert.Equal(t, u, parsed)
	}
	assert.Equal(t, "//topic_authority/1236/1/8001", New("topic_authority", 0x1236, 1, 0x8001).String())
}

func TestMatches(t *testing.T) {
	topic := New("ecu", 0x1236, 1, 0x8001)

	assert.True(t, topic.Matches(Any()))
	assert.True(t, topic.Matches(AnyIn("ecu")))
	assert.False(t, topic.Matches(AnyIn("host")))
	assert.True(t, topic.Matches(topic))
	assert.True(t, topic.Matches(New("ecu", 0x1236, 1, WildcardResource)))
	assert.False(t, topic.Matches(New("ecu", 0x1236, 2, WildcardResource)))
	assert.False(t, topic.Matches(New("ecu", 0x1237, 1, 0x8001)))

	// Instance bits must match when the filter carries them
	instanced := New("ecu", 0x00021236, 1, 0x8001)
	assert.True(t, instanced.Matches(New("ecu", 0x0002FFFF, 1, 0x8001)))
	assert.False(t, instanced.Matches(New("ecu", 0x0003FFFF, 1, 0x8001)))
	assert.True(t, instanced.Matches(New("ecu", WildcardEntityID, 1, 0x8001)))
}

func TestPredicates(t *testing.T) {
	assert.True(t, URI{}.IsZero())
	assert.False(t, Any().IsZero())
	assert.True(t, Any().HasWildcard())
	assert.False(t, New("a", 1, 1, 1).HasWildcard())
	assert.True(t, New("a", 1, 1, 0x8001).IsTopic())
	assert.False(t, New("a", 1, 1, 0x7FFF).IsTopic())
	assert.True(t, New("a", 1, 1, 0).IsRPCResponse())
}

func TestWithHelpers(t *testing.T) {
	u := New("a", 1, 1, 1)
	assert.Equal(t, "b", u.WithAuthority("b").Authority)
	assert.Equal(t, uint16(0x8001), u.WithResource(ResourceNotification).ResourceID)
	assert.Equal(t, "a", u.Authority, "receiver unchanged")
}

func TestJSONText(t *testing.T) {
	type envelope struct {
		Topic URI  `json:"topic"`
		Sink  *URI `json:"sink,omitempty"`
	}

	in := envelope{Topic: New("ecu", 0x1236, 1, 0x8001)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"//ecu/1236/1/8001"}`, string(data))

	var out envelope
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`{"topic":"nope"}`), &out))
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("bad") })
	assert.NotPanics(t, func() { MustParse("//a/1/1/1") })
}
