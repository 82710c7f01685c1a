// Package codec provides the payload codecs used by the backing stores.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// ErrEmpty is returned when decoding an empty payload.
var ErrEmpty = errors.New("empty payload")

// JSON encodes records as compact JSON.
//
// Output is NFC-normalized and does not HTML-escape < > &, so equal records
// always produce equal bytes regardless of how their strings were composed.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return norm.NFC.Bytes(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	if len(bytes.TrimSpace(b)) == 0 {
		return v, ErrEmpty
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}
