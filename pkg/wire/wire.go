// Package wire encodes and decodes the primitive types carried in command
// and response frames: i16, i32, CStr, and void, little-endian, positional.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Type identifies one of the wire's primitive types.
type Type string

// Supported wire types.
const (
	I16  Type = "i16"
	I32  Type = "i32"
	CStr Type = "CStr"
	Void Type = "void"
)

// Size limits from the manifest's ABI.
const (
	MaxArgBytes    = 253
	MaxReturnBytes = 254
)

// InvalidEncodingError is returned by decode operations when the payload
// does not match the declared type layout.
type InvalidEncodingError struct {
	Reason string
}

func (e *InvalidEncodingError) Error() string {
	return "invalid encoding: " + e.Reason
}

// Param names one positional parameter in a ToolDescriptor's parameter list.
type Param struct {
	Name string
	Type Type
}

// EncodeValue appends the wire encoding of v, interpreted as t, to dst and
// returns the extended slice. v must be int64 for i16/i32 and string for
// CStr; void carries no value and appends nothing.
func EncodeValue(dst []byte, t Type, v interface{}) ([]byte, error) {
	switch t {
	case I16:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("wire: i16 value must be int64, got %T", v)
		}
		if n < -32768 || n > 32767 {
			return nil, fmt.Errorf("wire: i16 value %d out of range", n)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(int16(n)))
		return append(dst, buf...), nil
	case I32:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("wire: i32 value must be int64, got %T", v)
		}
		if n < -2147483648 || n > 2147483647 {
			return nil, fmt.Errorf("wire: i32 value %d out of range", n)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
		return append(dst, buf...), nil
	case CStr:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("wire: CStr value must be string, got %T", v)
		}
		for i := 0; i < len(s); i++ {
			if s[i] == 0x00 {
				return nil, fmt.Errorf("wire: CStr value contains interior NUL")
			}
		}
		dst = append(dst, s...)
		return append(dst, 0x00), nil
	case Void:
		return dst, nil
	default:
		return nil, fmt.Errorf("wire: unknown type %q", t)
	}
}

// EncodeParams encodes values in params' declaration order and enforces
// MaxArgBytes. values must supply one entry per entry in params, matching
// by position.
func EncodeParams(params []Param, values []interface{}) ([]byte, error) {
	if len(values) != len(params) {
		return nil, fmt.Errorf("wire: expected %d arguments, got %d", len(params), len(values))
	}
	var out []byte
	for i, p := range params {
		var err error
		out, err = EncodeValue(out, p.Type, values[i])
		if err != nil {
			return nil, err
		}
	}
	if len(out) > MaxArgBytes {
		return nil, fmt.Errorf("wire: encoded arguments %d bytes exceeds max %d", len(out), MaxArgBytes)
	}
	return out, nil
}

// DecodeValue consumes the encoding of one value of type t from the front
// of buf and returns the decoded value plus the remaining bytes.
func DecodeValue(buf []byte, t Type) (interface{}, []byte, error) {
	switch t {
	case I16:
		if len(buf) < 2 {
			return nil, nil, &InvalidEncodingError{"payload shorter than required for i16"}
		}
		v := int64(int16(binary.LittleEndian.Uint16(buf[:2])))
		return v, buf[2:], nil
	case I32:
		if len(buf) < 4 {
			return nil, nil, &InvalidEncodingError{"payload shorter than required for i32"}
		}
		v := int64(int32(binary.LittleEndian.Uint32(buf[:4])))
		return v, buf[4:], nil
	case CStr:
		idx := -1
		for i, b := range buf {
			if b == 0x00 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, &InvalidEncodingError{"CStr has no terminator within bounds"}
		}
		return string(buf[:idx]), buf[idx+1:], nil
	case Void:
		return nil, buf, nil
	default:
		return nil, nil, fmt.Errorf("wire: unknown type %q", t)
	}
}

// DecodeReturn decodes a single return value of type t (nil t means void)
// from payload and requires the entire payload to be consumed.
func DecodeReturn(payload []byte, t *Type) (interface{}, error) {
	if t == nil {
		if len(payload) != 0 {
			return nil, &InvalidEncodingError{"trailing bytes after void return"}
		}
		return nil, nil
	}
	v, rest, err := DecodeValue(payload, *t)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &InvalidEncodingError{"trailing bytes after declared return type"}
	}
	if len(payload) > MaxReturnBytes {
		return nil, &InvalidEncodingError{"return payload exceeds max size"}
	}
	return v, nil
}
