package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `json:"name" cbor:"name"`
	Level int               `json:"level" cbor:"level"`
	Tags  map[string]string `json:"tags,omitempty" cbor:"tags,omitempty"`
	Data  []byte            `json:"data,omitempty" cbor:"data,omitempty"`
}

func TestCodecsRoundTrip(t *testing.T) {
	in := sample{Name: "alpha", Level: 3, Tags: map[string]string{"kind": "tree"}, Data: []byte{1, 2, 3}}

	for _, name := range []string{"cbor", "json"} {
		t.Run(name, func(t *testing.T) {
			c, err := Lookup(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			b, err := c.Marshal(in)
			require.NoError(t, err)

			var out sample
			require.NoError(t, c.Unmarshal(b, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := CBOR{}.Marshal(m)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := CBOR{}.Marshal(m)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, Default.Name(), c.Name())

	_, err = Lookup("bincode")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	var v int
	assert.Error(t, CBOR{}.Unmarshal([]byte{0xff, 0x00}, &v), "corrupt bytes must not decode")
}
