package commsutil

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const codecLogPrefix = "commsutil:codec"

// Codec serializes bridge payloads for the wire.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Codec names accepted by CodecByName.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// JSON is the default codec.
var JSON Codec = jsonCodec{}

// CBOR encodes payloads as CBOR. Maps nested in interface values decode as
// map[string]interface{} so decoded values stay JSON compatible.
var CBOR Codec = newCBORCodec()

// CodecByName returns the codec registered under name; empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON, nil
	case CodecCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%s - unknown codec %q", codecLogPrefix, name)
	}
}

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return JSON.Marshal(v)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("%s - cbor encode mode: %v", codecLogPrefix, err))
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("%s - cbor decode mode: %v", codecLogPrefix, err))
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return CodecCBOR }

func (c cborCodec) Marshal(v interface{}) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborCodec) Unmarshal(data []byte, v interface{}) error {
	return c.dec.Unmarshal(data, v)
}
