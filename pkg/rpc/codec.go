package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype this package registers with gRPC
// (negotiated as "application/grpc+gob" on the wire). No protoc toolchain
// runs in this build, so request/response messages are plain Go structs
// gob-encodes instead of generated protobuf types; gRPC's framing,
// multiplexing, deadline, and streaming semantics are otherwise untouched.
const CodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return CodecName }
