// Package jsoncodec is the single JSON entry point for xrayflow. Queue
// payloads, persisted samples, HTTP bodies and broadcast frames all go through
// it so encoding stays byte-for-byte consistent.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// EncodedSize returns the length in bytes of the compact JSON encoding of v.
func EncodedSize(v any) (int, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
