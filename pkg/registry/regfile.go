package registry

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header is the first line of every version 5 .reg file.
const Header = "Windows Registry Editor Version 5.00"

const legacyHeader = "REGEDIT4"

// Key is one [key] section of a .reg file.
type Key struct {
	Path   string
	Delete bool // [-path]
	Values []NamedValue
	// DeleteValues lists value names written as "name"=-.
	DeleteValues []string
}

// File is a parsed .reg file.
type File struct {
	Keys []Key
}

// Encode writes f in .reg format with CRLF line endings.
func Encode(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\r\n\r\n", Header)
	for _, k := range f.Keys {
		if k.Delete {
			fmt.Fprintf(bw, "[-%s]\r\n\r\n", k.Path)
			continue
		}
		fmt.Fprintf(bw, "[%s]\r\n", k.Path)
		for _, nv := range k.Values {
			fmt.Fprintf(bw, "%s=%s\r\n", encodeName(nv.Name), encodeValue(nv.Value))
		}
		for _, name := range k.DeleteValues {
			fmt.Fprintf(bw, "%s=-\r\n", encodeName(name))
		}
		bw.WriteString("\r\n")
	}
	return bw.Flush()
}

func encodeName(name string) string {
	if name == "" {
		return "@"
	}
	return quote(name)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func encodeValue(v Value) string {
	switch v.Type {
	case TypeString:
		return quote(v.String)
	case TypeDWord:
		return fmt.Sprintf("dword:%08x", v.DWord)
	case TypeBinary:
		return "hex:" + hexList(v.Data)
	default:
		return fmt.Sprintf("hex(%x):%s", uint32(v.Type), hexList(v.Data))
	}
}

func hexList(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = hex.EncodeToString([]byte{c})
	}
	return strings.Join(parts, ",")
}

// Decode parses a .reg file. UTF-16LE files (as written by reg.exe) and
// UTF-8 files with or without BOM are accepted.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := decodeText(data)
	lines := joinContinuations(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))

	f := &File{}
	sawHeader := false
	var cur *Key
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if !sawHeader {
			if line != Header && line != legacyHeader {
				return nil, fmt.Errorf("invalid .reg file: unexpected header %q", line)
			}
			sawHeader = true
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("invalid .reg file: line %d: unterminated key %q", i+1, line)
			}
			path := line[1 : len(line)-1]
			del := strings.HasPrefix(path, "-")
			if del {
				path = path[1:]
			}
			f.Keys = append(f.Keys, Key{Path: path, Delete: del})
			cur = &f.Keys[len(f.Keys)-1]
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("invalid .reg file: line %d: value outside of a key", i+1)
		}
		name, rest, err := parseName(line)
		if err != nil {
			return nil, fmt.Errorf("invalid .reg file: line %d: %w", i+1, err)
		}
		if rest == "-" {
			cur.DeleteValues = append(cur.DeleteValues, name)
			continue
		}
		v, err := parseValue(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid .reg file: line %d: %w", i+1, err)
		}
		cur.Values = append(cur.Values, NamedValue{Name: name, Value: v})
	}
	if !sawHeader {
		return nil, fmt.Errorf("invalid .reg file: missing header")
	}
	return f, nil
}

func decodeText(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE:
		return decodeUTF16(data[2:])
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:])
	}
	return string(data)
}

// joinContinuations merges hex lines that end with a backslash.
func joinContinuations(lines []string) []string {
	var out []string
	var pending strings.Builder
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if pending.Len() > 0 {
			l = strings.TrimLeft(l, " \t")
		}
		if strings.HasSuffix(l, `\`) {
			pending.WriteString(strings.TrimSuffix(l, `\`))
			continue
		}
		pending.WriteString(l)
		out = append(out, pending.String())
		pending.Reset()
	}
	if pending.Len() > 0 {
		out = append(out, pending.String())
	}
	return out
}

// parseName returns the value name and the text after '='.
func parseName(line string) (string, string, error) {
	if strings.HasPrefix(line, "@=") {
		return "", line[2:], nil
	}
	if !strings.HasPrefix(line, `"`) {
		return "", "", fmt.Errorf("expected quoted value name in %q", line)
	}
	name, n, err := unquote(line)
	if err != nil {
		return "", "", err
	}
	rest := line[n:]
	if !strings.HasPrefix(rest, "=") {
		return "", "", fmt.Errorf("expected '=' after value name %q", name)
	}
	return name, rest[1:], nil
}

// unquote reads a quoted string at the start of s and returns it with the
// number of bytes consumed.
func unquote(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("dangling escape in %q", s)
			}
			i++
			b.WriteByte(s[i])
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string in %q", s)
}

func parseValue(s string) (Value, error) {
	switch {
	case strings.HasPrefix(s, `"`):
		str, n, err := unquote(s)
		if err != nil {
			return Value{}, err
		}
		if n != len(s) {
			return Value{}, fmt.Errorf("trailing data after string %q", s)
		}
		return StringValue(str), nil
	case strings.HasPrefix(strings.ToLower(s), "dword:"):
		n, err := strconv.ParseUint(s[len("dword:"):], 16, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid dword %q: %w", s, err)
		}
		return DWordValue(uint32(n)), nil
	case strings.HasPrefix(strings.ToLower(s), "hex:"):
		data, err := parseHexList(s[len("hex:"):])
		if err != nil {
			return Value{}, err
		}
		return BinaryValue(TypeBinary, data), nil
	case strings.HasPrefix(strings.ToLower(s), "hex("):
		typ, list, ok := strings.Cut(s[len("hex("):], "):")
		if !ok {
			return Value{}, fmt.Errorf("invalid hex value %q", s)
		}
		t, err := strconv.ParseUint(typ, 16, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid value type in %q: %w", s, err)
		}
		data, err := parseHexList(list)
		if err != nil {
			return Value{}, err
		}
		return BinaryValue(ValueType(t), data), nil
	}
	return Value{}, fmt.Errorf("unsupported value %q", s)
}

func parseHexList(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		b, err := strconv.ParseUint(strings.TrimSpace(p), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q: %w", p, err)
		}
		out = append(out, byte(b))
	}
	return out, nil
}
