package tkv

import (
	"fmt"
	"reflect"
)

// Schema fixes the association of a table name with a key type and a value
// type. The name must be unique within one open database instance; opening
// the same name through two schemas with different key or value types fails
// with SchemaMismatchError.
type Schema[K, V any] struct {
	name string
	key  KeyCodec[K]
	val  ValueCodec[V]
}

// NewSchema defines a schema. The value codec may be nil, in which case
// msgpack is used. Panics on an empty name or a name containing a NUL byte
// (reserved as the table separator by prefix-based engines).
func NewSchema[K, V any](name string, key KeyCodec[K], val ValueCodec[V]) *Schema[K, V] {
	if name == "" {
		panic("tkv: empty table name")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			panic(fmt.Sprintf("tkv: table name %q contains a NUL byte", name))
		}
	}
	if key == nil {
		panic(fmt.Sprintf("tkv: table %q: nil key codec", name))
	}
	if val == nil {
		val = MsgPackValue[V]()
	}
	return &Schema[K, V]{name: name, key: key, val: val}
}

func (s *Schema[K, V]) Name() string {
	return s.name
}

func (s *Schema[K, V]) keyType() reflect.Type {
	return reflect.TypeOf((*K)(nil)).Elem()
}

func (s *Schema[K, V]) valueType() reflect.Type {
	return reflect.TypeOf((*V)(nil)).Elem()
}
