package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

func TestJSON_Encode_Compact(t *testing.T) {
	b, err := JSON[sample]{}.Encode(sample{ID: 1, Label: "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"label":"a<b>&c"}`, string(b))
}

func TestJSON_Encode_NFC(t *testing.T) {
	// "é" as e + combining acute accent (NFD) vs precomposed (NFC).
	nfd := sample{ID: 1, Label: "cafe\u0301"}
	nfc := sample{ID: 1, Label: "caf\u00e9"}

	a, err := JSON[sample]{}.Encode(nfd)
	require.NoError(t, err)
	b, err := JSON[sample]{}.Encode(nfc)
	require.NoError(t, err)

	assert.Equal(t, b, a)
}

func TestJSON_Decode(t *testing.T) {
	v, err := JSON[sample]{}.Decode([]byte(`{"id":7,"label":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, sample{ID: 7, Label: "x"}, v)
}

func TestJSON_Decode_Errors(t *testing.T) {
	_, err := JSON[sample]{}.Decode(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = JSON[sample]{}.Decode([]byte("   "))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = JSON[sample]{}.Decode([]byte(`{"id":`))
	assert.Error(t, err)

	_, err = JSON[sample]{}.Decode([]byte(`{"id":"not a number"}`))
	assert.Error(t, err)
}
