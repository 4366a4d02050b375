package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
)

func TestCodecs_RoundTrip(t *testing.T) {
	req := NewRequest(client, method, 1500*time.Millisecond, []byte{0x01, 0x02}, WithPriority(2))
	msgs := []*Message{
		NewPublish(topic, []byte(`{"speed":42}`), WithFormat(FormatJSON)),
		NewNotification(topic, handler, nil),
		req,
		NewResponse(req, []byte("ok"), WithFormat(FormatText)),
	}

	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			for _, m := range msgs {
				data, err := codec.Marshal(m)
				require.NoError(t, err)

				got, err := codec.Unmarshal(data)
				require.NoError(t, err)
				assert.Equal(t, m, got, m.Kind.String())
			}
		})
	}
}

func TestJSONCodec_WireShape(t *testing.T) {
	m := NewPublish(topic, nil)
	data, err := JSONCodec{}.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+m.ID.String()+`","kind":"publish","source":"//ecu/1236/1/8001"}`, string(data))
}

func TestCBORCodec_Deterministic(t *testing.T) {
	m := NewNotification(topic, handler, []byte("p"))
	a, err := CBORCodec{}.Marshal(m)
	require.NoError(t, err)
	b, err := CBORCodec{}.Marshal(m.Clone())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCodecs_RejectGarbage(t *testing.T) {
	inputs := map[string][]byte{
		"not encoded": []byte("\xff\x00garbage"),
	}
	for _, codec := range []Codec{JSONCodec{}, CBORCodec{}} {
		for name, data := range inputs {
			_, err := codec.Unmarshal(data)
			require.Error(t, err, "%s %s", codec.ContentType(), name)
			assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
		}
	}

	_, err := JSONCodec{}.Unmarshal([]byte(`{"id":"nope","kind":"publish","source":"//a/1/1/8001"}`))
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	_, err = JSONCodec{}.Unmarshal([]byte(`{"id":"` + NewID().String() + `","kind":"publish","source":"bad"}`))
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
}
