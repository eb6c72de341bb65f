package codec

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Count int
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := NewJSONCodec()
	in := sample{Name: "add", Count: 7}

	encoded, err := c.Encode(in)
	require.NoError(t, err)
	require.NotNil(t, encoded)

	decoded, err := c.Decode(encoded, reflect.TypeOf(sample{}))
	require.NoError(t, err)
	require.Equal(t, in, decoded)
}

func TestJSONCodecNilRoundTrip(t *testing.T) {
	c := NewJSONCodec()

	encoded, err := c.Encode(nil)
	require.NoError(t, err)
	require.Nil(t, encoded)

	decoded, err := c.Decode(nil, reflect.TypeOf(sample{}))
	require.NoError(t, err)
	require.Equal(t, sample{}, decoded)
}

func TestJSONCodecNilPointerEncodesToNilString(t *testing.T) {
	c := NewJSONCodec()
	var p *sample

	encoded, err := c.Encode(p)
	require.NoError(t, err)
	require.Nil(t, encoded)
}

func TestJSONCodecDecodeNullLiteral(t *testing.T) {
	c := NewJSONCodec()
	null := "null"

	decoded, err := c.Decode(&null, reflect.TypeOf(0))
	require.NoError(t, err)
	require.Equal(t, 0, decoded)
}

func TestJSONCodecPropertyRoundTripScalars(t *testing.T) {
	c := NewJSONCodec()
	cases := []any{42, "hello", 3.14, true, []int{1, 2, 3}, map[string]int{"a": 1}}
	for _, v := range cases {
		encoded, err := c.Encode(v)
		require.NoError(t, err)
		decoded, err := c.Decode(encoded, reflect.TypeOf(v))
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}
