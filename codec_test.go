package tkv

import (
	"bytes"
	"math"
	"testing"
)

func TestUintKeyRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 100, 255, 256, 300, math.MaxUint32} {
		buf := Uint32Key.EncodeKey(v)
		if len(buf) != 4 {
			t.Fatalf("EncodeKey(%d) returned %d bytes, wanted 4", v, len(buf))
		}
		got := must(Uint32Key.DecodeKey(buf))
		deepEqual(t, got, v)
	}

	buf := Uint64Key.EncodeKey(math.MaxUint64)
	deepEqual(t, must(Uint64Key.DecodeKey(buf)), uint64(math.MaxUint64))
}

func TestIntKeyRoundTrip(t *testing.T) {
	for _, v := range []int64{math.MinInt64, -1000000, -1, 0, 1, 42, math.MaxInt64} {
		got := must(Int64Key.DecodeKey(Int64Key.EncodeKey(v)))
		deepEqual(t, got, v)
	}
	for _, v := range []int8{math.MinInt8, -1, 0, 1, math.MaxInt8} {
		got := must(Int8Key.DecodeKey(Int8Key.EncodeKey(v)))
		deepEqual(t, got, v)
	}
}

func TestIntKeyOrderPreserving(t *testing.T) {
	vals := []int64{math.MinInt64, -1 << 32, -256, -2, -1, 0, 1, 2, 255, 256, 1 << 32, math.MaxInt64}
	for i := 1; i < len(vals); i++ {
		a := Int64Key.EncodeKey(vals[i-1])
		b := Int64Key.EncodeKey(vals[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("enc(%d) = %x does not sort before enc(%d) = %x", vals[i-1], a, vals[i], b)
		}
	}
}

func TestUintKeyOrderPreserving(t *testing.T) {
	vals := []uint32{0, 1, 100, 255, 256, 300, 500, 1 << 16, math.MaxUint32}
	for i := 1; i < len(vals); i++ {
		a := Uint32Key.EncodeKey(vals[i-1])
		b := Uint32Key.EncodeKey(vals[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("enc(%d) = %x does not sort before enc(%d) = %x", vals[i-1], a, vals[i], b)
		}
	}
}

func TestKeyLengthErrors(t *testing.T) {
	if _, err := Uint32Key.DecodeKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecodeKey(3 bytes) succeeded, wanted length error")
	}
	if _, err := Int16Key.DecodeKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecodeKey(3 bytes) succeeded, wanted length error")
	}
	if _, err := Uint8Key.DecodeKey(nil); err == nil {
		t.Fatalf("DecodeKey(nil) succeeded, wanted length error")
	}
}

func TestStringKey(t *testing.T) {
	for _, s := range []string{"", "a", "hello", "héllo", "日本語"} {
		deepEqual(t, must(StringKey.DecodeKey(StringKey.EncodeKey(s))), s)
	}
	if _, err := StringKey.DecodeKey([]byte{0xFF, 0xFE}); err == nil {
		t.Fatalf("DecodeKey(invalid UTF-8) succeeded, wanted error")
	}
	if bytes.Compare(StringKey.EncodeKey("abc"), StringKey.EncodeKey("abd")) >= 0 {
		t.Fatalf("string encoding is not order-preserving")
	}
}

func TestBytesKeyClones(t *testing.T) {
	orig := []byte{1, 2, 3}
	enc := BytesKey.EncodeKey(orig)
	orig[0] = 99
	deepEqual(t, enc, []byte{1, 2, 3})

	dec := must(BytesKey.DecodeKey(enc))
	enc[0] = 99
	deepEqual(t, dec, []byte{1, 2, 3})
}

func TestMsgPackValueRoundTrip(t *testing.T) {
	type record struct {
		Name  string
		Count int
		Tags  []string
	}
	codec := MsgPackValue[record]()
	orig := record{Name: "widget", Count: 7, Tags: []string{"a", "b"}}
	buf := must(codec.EncodeValue(orig))
	deepEqual(t, must(codec.DecodeValue(buf)), orig)

	if _, err := codec.DecodeValue([]byte{0xC1}); err == nil {
		t.Fatalf("DecodeValue(garbage) succeeded, wanted error")
	}
}

func TestJSONValueRoundTrip(t *testing.T) {
	codec := JSONValue[map[string]int]()
	orig := map[string]int{"a": 1, "b": 2}
	deepEqual(t, must(codec.DecodeValue(must(codec.EncodeValue(orig)))), orig)
}
