package comm

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"reflect"
)

// Op is an element-wise reduction operation.
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
)

func (op Op) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

func (op Op) apply(acc, v []float64) {
	switch op {
	case OpSum:
		for i := range acc {
			acc[i] += v[i]
		}
	case OpMax:
		for i := range acc {
			acc[i] = math.Max(acc[i], v[i])
		}
	case OpMin:
		for i := range acc {
			acc[i] = math.Min(acc[i], v[i])
		}
	}
}

func encodeFloat64s(vals []float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// decodeFloat64s fills dst from b; the lengths must agree.
func decodeFloat64s(dst []float64, b []byte) error {
	if len(b) != 8*len(dst) {
		return fmt.Errorf("comm: payload of %d bytes for %d float64s", len(b), len(dst))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return nil
}

func putInt64(b []byte, v int64) {
	binary.LittleEndian.PutUint64(b, uint64(v))
}

func getInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValue decodes b into the value v points to. The value is zeroed
// first: gob does not transmit zero fields, so stale ones would survive.
func decodeValue(b []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("comm: decode into non-pointer %T", v)
	}
	rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
