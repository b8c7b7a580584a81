package zcl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ZCL data type IDs
const (
	TypeNoData   uint8 = 0x00
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeBitmap24 uint8 = 0x1A
	TypeBitmap32 uint8 = 0x1B
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint24   uint8 = 0x22
	TypeUint32   uint8 = 0x23
	TypeInt8     uint8 = 0x28
	TypeInt16    uint8 = 0x29
	TypeInt24    uint8 = 0x2A
	TypeInt32    uint8 = 0x2B
	TypeEnum8    uint8 = 0x30
	TypeEnum16   uint8 = 0x31
	TypeFloat32  uint8 = 0x39
	TypeOctetStr uint8 = 0x41
	TypeCharStr  uint8 = 0x42
)

type kind uint8

const (
	kindNone kind = iota
	kindBool
	kindUnsigned
	kindSigned
	kindFloat
	kindString
	kindOctets
)

type typeInfo struct {
	name   string
	size   int // -1 for length-prefixed
	kind   kind
	analog bool
}

var typeTable = map[uint8]typeInfo{
	TypeNoData:   {"nodata", 0, kindNone, false},
	TypeBool:     {"bool", 1, kindBool, false},
	TypeBitmap8:  {"map8", 1, kindUnsigned, false},
	TypeBitmap16: {"map16", 2, kindUnsigned, false},
	TypeBitmap24: {"map24", 3, kindUnsigned, false},
	TypeBitmap32: {"map32", 4, kindUnsigned, false},
	TypeUint8:    {"uint8", 1, kindUnsigned, true},
	TypeUint16:   {"uint16", 2, kindUnsigned, true},
	TypeUint24:   {"uint24", 3, kindUnsigned, true},
	TypeUint32:   {"uint32", 4, kindUnsigned, true},
	TypeInt8:     {"int8", 1, kindSigned, true},
	TypeInt16:    {"int16", 2, kindSigned, true},
	TypeInt24:    {"int24", 3, kindSigned, true},
	TypeInt32:    {"int32", 4, kindSigned, true},
	TypeEnum8:    {"enum8", 1, kindUnsigned, false},
	TypeEnum16:   {"enum16", 2, kindUnsigned, false},
	TypeFloat32:  {"single", 4, kindFloat, true},
	TypeOctetStr: {"octstr", -1, kindOctets, false},
	TypeCharStr:  {"string", -1, kindString, false},
}

// TypeSize returns the fixed size in bytes of a ZCL type, or -1 for
// length-prefixed and unknown types.
func TypeSize(typeID uint8) int {
	info, ok := typeTable[typeID]
	if !ok {
		return -1
	}
	return info.size
}

// TypeName returns a human-readable name for a ZCL type.
func TypeName(typeID uint8) string {
	if info, ok := typeTable[typeID]; ok {
		return info.name
	}
	return fmt.Sprintf("0x%02X", typeID)
}

// TypeByName returns the type ID printed by TypeName as name.
func TypeByName(name string) (uint8, bool) {
	for id, info := range typeTable {
		if info.name == name {
			return id, true
		}
	}
	return 0, false
}

// IsAnalog reports whether the type carries a reportable change in a
// Configure Reporting record. Discrete types (bool, bitmap, enum) do not.
func IsAnalog(typeID uint8) bool {
	return typeTable[typeID].analog
}

// IsKnownType reports whether the codec can handle the type.
func IsKnownType(typeID uint8) bool {
	_, ok := typeTable[typeID]
	return ok
}

// DecodeValue decodes a ZCL typed value from raw bytes, returning the Go value
// and the number of bytes consumed. Integers decode to uint64 or int64.
// A boolean byte other than 0x00, 0x01 or 0xFF (invalid) is an error.
func DecodeValue(typeID uint8, data []byte) (any, int, error) {
	info, ok := typeTable[typeID]
	if !ok {
		return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
	}
	if info.size < 0 {
		return decodeString(info, data)
	}
	if len(data) < info.size {
		return nil, 0, fmt.Errorf("zcl: not enough data for %s: need %d, have %d", info.name, info.size, len(data))
	}

	switch info.kind {
	case kindNone:
		return nil, 0, nil
	case kindBool:
		switch data[0] {
		case 0x00:
			return false, 1, nil
		case 0x01:
			return true, 1, nil
		case 0xFF:
			return nil, 1, nil
		}
		return nil, 1, fmt.Errorf("zcl: invalid boolean value 0x%02X", data[0])
	case kindUnsigned:
		return readUint(data, info.size), info.size, nil
	case kindSigned:
		v := readUint(data, info.size)
		shift := 64 - 8*uint(info.size)
		return int64(v<<shift) >> shift, info.size, nil
	case kindFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), 4, nil
	}
	return nil, 0, fmt.Errorf("zcl: unsupported type 0x%02X", typeID)
}

func readUint(data []byte, size int) uint64 {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

func decodeString(info typeInfo, data []byte) (any, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("zcl: no length byte for %s", info.name)
	}
	length := int(data[0])
	if length == 0xFF {
		return nil, 1, nil
	}
	if len(data) < 1+length {
		return nil, 0, fmt.Errorf("zcl: %s truncated: need %d, have %d", info.name, length, len(data)-1)
	}
	if info.kind == kindString {
		return string(data[1 : 1+length]), 1 + length, nil
	}
	b := make([]byte, length)
	copy(b, data[1:1+length])
	return b, 1 + length, nil
}

// EncodeValue encodes a Go value into ZCL wire format, rejecting values that
// do not fit the type.
func EncodeValue(typeID uint8, val any) ([]byte, error) {
	info, ok := typeTable[typeID]
	if !ok {
		return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
	}

	switch info.kind {
	case kindNone:
		return nil, nil
	case kindBool:
		v, ok := ToBool(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case kindUnsigned:
		v, ok := ToUint64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %v (%T) to %s", val, val, info.name)
		}
		limit := uint64(1)<<(8*uint(info.size)) - 1
		if v > limit {
			return nil, fmt.Errorf("zcl: value %d overflows %s (max %d)", v, info.name, limit)
		}
		return putUint(v, info.size), nil
	case kindSigned:
		v, ok := ToInt64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %v (%T) to %s", val, val, info.name)
		}
		bits := 8 * uint(info.size)
		lo, hi := -int64(1)<<(bits-1), int64(1)<<(bits-1)-1
		if v < lo || v > hi {
			return nil, fmt.Errorf("zcl: value %d overflows %s (range %d..%d)", v, info.name, lo, hi)
		}
		return putUint(uint64(v), info.size), nil
	case kindFloat:
		v, ok := ToFloat64(val)
		if !ok {
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, info.name)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, nil
	case kindString, kindOctets:
		var b []byte
		switch s := val.(type) {
		case string:
			b = []byte(s)
		case []byte:
			b = s
		default:
			return nil, fmt.Errorf("zcl: cannot convert %T to %s", val, info.name)
		}
		if len(b) > 254 {
			return nil, fmt.Errorf("zcl: %s too long: %d (max 254)", info.name, len(b))
		}
		return append([]byte{uint8(len(b))}, b...), nil
	}
	return nil, fmt.Errorf("zcl: encode not implemented for type 0x%02X", typeID)
}

func putUint(v uint64, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return buf
}

// ToBool accepts bool and the integers 0 and 1.
func ToBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	n, ok := ToInt64(v)
	if !ok || (n != 0 && n != 1) {
		return false, false
	}
	return n == 1, true
}

// ToUint64 converts any Go integer, or an integral non-negative float, to uint64.
func ToUint64(v any) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case uint:
		return uint64(val), true
	}
	n, ok := ToInt64(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

// ToInt64 converts any Go integer, or an integral float, to int64.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint:
		if uint64(val) > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float32:
		return ToInt64(float64(val))
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

// ToFloat64 converts any Go number to float64.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case uint64:
		return float64(val), true
	}
	n, ok := ToInt64(v)
	if !ok {
		return 0, false
	}
	return float64(n), true
}
