package registry

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ValueType is the Windows registry value type code.
type ValueType uint32

const (
	TypeString       ValueType = 1  // REG_SZ
	TypeExpandString ValueType = 2  // REG_EXPAND_SZ
	TypeBinary       ValueType = 3  // REG_BINARY
	TypeDWord        ValueType = 4  // REG_DWORD
	TypeMultiString  ValueType = 7  // REG_MULTI_SZ
	TypeQWord        ValueType = 11 // REG_QWORD
)

// Value is a registry value. String is used for TypeString, DWord for
// TypeDWord, and Data holds the raw little-endian bytes of every other type.
type Value struct {
	Type   ValueType
	String string
	DWord  uint32
	Data   []byte
}

// StringValue creates a REG_SZ value.
func StringValue(s string) Value { return Value{Type: TypeString, String: s} }

// DWordValue creates a REG_DWORD value.
func DWordValue(n uint32) Value { return Value{Type: TypeDWord, DWord: n} }

// BinaryValue creates a value of the given type from raw bytes.
func BinaryValue(t ValueType, data []byte) Value { return Value{Type: t, Data: data} }

// NamedValue is a value with its name. The default value has an empty name.
type NamedValue struct {
	Name  string
	Value Value
}

// Render formats a value for display.
func (v Value) Render() string {
	switch v.Type {
	case TypeString:
		return v.String
	case TypeDWord:
		return strconv.FormatUint(uint64(v.DWord), 10)
	case TypeQWord:
		if len(v.Data) == 8 {
			return strconv.FormatUint(binary.LittleEndian.Uint64(v.Data), 10)
		}
	case TypeExpandString:
		return decodeUTF16Z(v.Data)
	case TypeMultiString:
		parts := strings.Split(decodeUTF16(v.Data), "\x00")
		var out []string
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return strings.Join(out, "\n")
	}
	return hex.EncodeToString(v.Data)
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(u))
}

func decodeUTF16Z(b []byte) string {
	return strings.TrimRight(decodeUTF16(b), "\x00")
}

// EncodeUTF16Z encodes s as a null-terminated UTF-16LE byte slice, the raw
// form of REG_EXPAND_SZ data.
func EncodeUTF16Z(s string) []byte {
	u := utf16.Encode([]rune(s + "\x00"))
	b := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[2*i:], c)
	}
	return b
}
