package cluster

import (
	"encoding/json"
	"fmt"
	"mime"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serialises request and response bodies.
type Codec interface {
	// Name is the identifier used in configuration ("json", "msgpack", "cbor").
	Name() string
	// ContentType is the media type sent in Content-Type headers.
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names accepted by GetCodec.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// JSONCodec encodes bodies as JSON. JSON cannot carry ±Inf or NaN, so a
// matrix holding them fails to encode.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return CodecJSON }
func (JSONCodec) ContentType() string                { return "application/json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes bodies as MessagePack, the default for matrix traffic.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return CodecMsgpack }
func (MsgpackCodec) ContentType() string                { return "application/msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CBORCodec encodes bodies as CBOR using deterministic core encoding.
type CBORCodec struct{}

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cluster: CBOR encoder initialization failed: " + err.Error())
	}
}

func (CBORCodec) Name() string                       { return CodecCBOR }
func (CBORCodec) ContentType() string                { return "application/cbor" }
func (CBORCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// GetCodec returns the codec registered under name. An empty name selects
// msgpack.
func GetCodec(name string) (Codec, error) {
	switch name {
	case CodecMsgpack, "":
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// codecFor picks the codec matching a Content-Type header, falling back to
// JSON for missing or unknown media types.
func codecFor(contentType string) Codec {
	mt, _, _ := mime.ParseMediaType(contentType)
	for _, c := range []Codec{MsgpackCodec{}, CBORCodec{}} {
		if mt == c.ContentType() {
			return c
		}
	}
	return JSONCodec{}
}
