// Package canon implements the canonical encoding used to turn a job's
// manifest and dependency records into a deterministic byte string prior to
// hashing. The rules are a restricted form of canonical JSON: object keys
// sorted by code point, no insignificant whitespace, a fixed escape policy
// for control characters and non-BMP runes, and integers in bare minimal
// form. A float64 with an integral, finite value is encoded as that integer;
// any other float (fractional, NaN or infinite) is rejected.
package canon

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// EncodingError is returned (as *EncodingError, wrapped in rerr terms by
// callers that need the shared taxonomy) when a value tree cannot be
// canonically encoded.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return "canon: " + e.Reason }

// Marshal renders v — built from nil, bool, int/int64, integral float64,
// string, map[string]any (treated as an ordered mapping keyed by string), and
// []any — into its canonical byte form.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	seen := make(map[uintptr]bool)
	if err := encode(&b, v, seen); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v any, seen map[uintptr]bool) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case int:
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
		return nil
	case float64:
		// Only finite values that are mathematically integers are ever
		// permitted through — the manifest layer should never hand us a
		// fractional float, since r3.yaml has no use for one.
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return &EncodingError{Reason: "NaN/Infinity cannot be canonically encoded"}
		}
		if t != math.Trunc(t) {
			return &EncodingError{Reason: fmt.Sprintf("non-integer float %v cannot be canonically encoded", t)}
		}
		b.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case string:
		encodeString(b, t)
		return nil
	case map[string]any:
		return encodeMap(b, t, seen)
	case []any:
		return encodeSlice(b, t, seen)
	default:
		return &EncodingError{Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func encodeMap(b *strings.Builder, m map[string]any, seen map[uintptr]bool) error {
	ptr := reflect.ValueOf(m).Pointer()
	if ptr != 0 {
		if seen[ptr] {
			return &EncodingError{Reason: "cyclic structure"}
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // code-point order: Go's default string comparison is byte-wise UTF-8, equivalent for valid UTF-8 input.

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		if err := encode(b, m[k], seen); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeSlice(b *strings.Builder, s []any, seen map[uintptr]bool) error {
	ptr := reflect.ValueOf(s).Pointer()
	if ptr != 0 {
		if seen[ptr] {
			return &EncodingError{Reason: "cyclic structure"}
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	b.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encode(b, v, seen); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// encodeString writes s as a canonical JSON string: control characters
// (U+0000-U+001F) and the double quote and backslash are escaped with their
// standard JSON escapes (falling back to \u00XX for the rest of the control
// range); runes above the Basic Multilingual Plane are escaped as a UTF-16
// surrogate pair, matching the fixed escape policy required by §4.1.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(b, `\u%04x`, r)
			case r > 0xFFFF:
				r1, r2 := utf16Surrogates(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, r1, r2)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

func utf16Surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r >> 10), 0xDC00 + (r & 0x3FF)
}
