package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a google.golang.org/grpc encoding.Codec. With no protoc
// toolchain available to generate protobuf message types, this service
// negotiates a "json" content-subtype instead, using grpc-go's own
// encoding.RegisterCodec extension point rather than hand-rolled wire
// framing.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
