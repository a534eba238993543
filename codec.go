package tkv

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

// KeyCodec converts keys of type K to and from bytes. For ordered key types
// the encoding must be order-preserving: a < b by the key type's natural
// order if and only if EncodeKey(a) sorts before EncodeKey(b) as bytes.
// Range queries are executed by the engine purely on byte ranges, so a
// codec violating this contract silently breaks them.
type KeyCodec[K any] interface {
	EncodeKey(key K) []byte
	DecodeKey(buf []byte) (K, error)
}

// ValueCodec converts values of type V to and from bytes. Round-trip is
// required: DecodeValue(EncodeValue(v)) must reproduce v for every value
// the type can represent. No ordering contract applies to values.
type ValueCodec[V any] interface {
	EncodeValue(value V) ([]byte, error)
	DecodeValue(buf []byte) (V, error)
}

// Built-in key codecs. Unsigned integers encode as fixed-width big-endian;
// signed integers flip the sign bit on top of that so that negative keys
// sort before positive ones.
var (
	Uint8Key  KeyCodec[uint8]  = uintKey[uint8]{1}
	Uint16Key KeyCodec[uint16] = uintKey[uint16]{2}
	Uint32Key KeyCodec[uint32] = uintKey[uint32]{4}
	Uint64Key KeyCodec[uint64] = uintKey[uint64]{8}
	UintKey   KeyCodec[uint]   = uintKey[uint]{8}

	Int8Key  KeyCodec[int8]  = intKey[int8]{1}
	Int16Key KeyCodec[int16] = intKey[int16]{2}
	Int32Key KeyCodec[int32] = intKey[int32]{4}
	Int64Key KeyCodec[int64] = intKey[int64]{8}
	IntKey   KeyCodec[int]   = intKey[int]{8}

	StringKey KeyCodec[string] = stringKey{}
	BytesKey  KeyCodec[[]byte] = bytesKey{}
)

type uintKey[K ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint] struct {
	size int
}

func (c uintKey[K]) EncodeKey(key K) []byte {
	buf := make([]byte, c.size)
	v := uint64(key)
	for i := c.size - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

func (c uintKey[K]) DecodeKey(buf []byte) (K, error) {
	if len(buf) != c.size {
		return 0, errKeyLength(c.size, len(buf))
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return K(v), nil
}

type intKey[K ~int8 | ~int16 | ~int32 | ~int64 | ~int] struct {
	size int
}

func (c intKey[K]) EncodeKey(key K) []byte {
	buf := make([]byte, c.size)
	v := uint64(int64(key))
	for i := c.size - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] ^= 0x80 // sign flip: two's complement order becomes byte order
	return buf
}

func (c intKey[K]) DecodeKey(buf []byte) (K, error) {
	if len(buf) != c.size {
		return 0, errKeyLength(c.size, len(buf))
	}
	var v uint64
	for i, b := range buf {
		if i == 0 {
			b ^= 0x80
		}
		v = v<<8 | uint64(b)
	}
	shift := 64 - 8*c.size
	return K(int64(v<<shift) >> shift), nil
}

type stringKey struct{}

func (stringKey) EncodeKey(key string) []byte {
	return []byte(key)
}

func (stringKey) DecodeKey(buf []byte) (string, error) {
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("not a valid UTF-8 string")
	}
	return string(buf), nil
}

type bytesKey struct{}

func (bytesKey) EncodeKey(key []byte) []byte {
	return slices.Clone(key)
}

func (bytesKey) DecodeKey(buf []byte) ([]byte, error) {
	return slices.Clone(buf), nil
}

func errKeyLength(expected, actual int) error {
	return fmt.Errorf("invalid key length: expected %d bytes, got %d", expected, actual)
}

// MsgPackValue returns the default value codec, whole-value msgpack
// serialization of V.
func MsgPackValue[V any]() ValueCodec[V] {
	return msgpackValue[V]{}
}

type msgpackValue[V any] struct{}

func (msgpackValue[V]) EncodeValue(value V) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (msgpackValue[V]) DecodeValue(buf []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(buf, &v)
	return v, err
}

// JSONValue returns a value codec serializing V as JSON. Slower and larger
// than msgpack, but human-readable in debugging tools.
func JSONValue[V any]() ValueCodec[V] {
	return jsonValue[V]{}
}

type jsonValue[V any] struct{}

func (jsonValue[V]) EncodeValue(value V) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonValue[V]) DecodeValue(buf []byte) (V, error) {
	var v V
	err := json.Unmarshal(buf, &v)
	return v, err
}
