// Package json 封装 JSON 编解码。amd64/arm64 上使用 sonic，其它平台回退到 encoding/json。
package json

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

// RawMessage 延迟解码的原始 JSON。
type RawMessage = stdjson.RawMessage

var (
	Marshal    func(v any) ([]byte, error)
	Unmarshal  func(data []byte, v any) error
	Valid      func(data []byte) bool
	NewEncoder func(w io.Writer) Encoder
	NewDecoder func(r io.Reader) Decoder

	usingSonic bool
)

// Encoder is a streaming JSON encoder.
type Encoder interface {
	Encode(v any) error
}

// Decoder is a streaming JSON decoder.
type Decoder interface {
	Decode(v any) error
}

func init() {
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64" {
		api := sonic.ConfigStd
		Marshal = api.Marshal
		Unmarshal = api.Unmarshal
		Valid = api.Valid
		NewEncoder = func(w io.Writer) Encoder { return api.NewEncoder(w) }
		NewDecoder = func(r io.Reader) Decoder { return api.NewDecoder(r) }
		usingSonic = true
		return
	}

	Marshal = stdjson.Marshal
	Unmarshal = stdjson.Unmarshal
	Valid = stdjson.Valid
	NewEncoder = func(w io.Writer) Encoder { return stdjson.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return stdjson.NewDecoder(r) }
}

// IsUsingSonic reports whether sonic backs the package functions.
func IsUsingSonic() bool {
	return usingSonic
}
