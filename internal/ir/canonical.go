package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces a deterministic encoding of v used for identity.
//
// The encoding is JSON-shaped:
//  1. Strings are NFC normalized, HTML characters are NOT escaped
//  2. Integers are base-10, decimals use their normalized string form tagged
//     with a "d:" prefix so 1 and 1.0 stay distinct from "1"
//  3. Timestamps are RFC 3339 with nanoseconds in UTC, tagged "t:"
//  4. null encodes as null (a composite key may contain a null member)
func MarshalCanonical(v IRValue) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v IRValue) error {
	switch val := v.(type) {
	case nil, IRNull:
		buf.WriteString("null")
	case IRString:
		return writeCanonicalString(buf, string(val))
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRBool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case IRDecimal:
		// Normalize trailing zeros so 1.50 and 1.5 encode identically.
		return writeCanonicalString(buf, "d:"+val.D.String())
	case IRTime:
		return writeCanonicalString(buf, "t:"+val.T.UTC().Format(time.RFC3339Nano))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported type for canonical encoding: %T", v)
	}
	return nil
}

// writeCanonicalString writes s as a JSON string after NFC normalization.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	// json.Encoder adds trailing newline
	out := tmp.Bytes()
	buf.Write(out[:len(out)-1])
	return nil
}

// CanonicalKey encodes a list of Go values (typically identifier column
// values) into a comparable string key.
func CanonicalKey(values ...any) (string, error) {
	arr := make(IRArray, len(values))
	for i, v := range values {
		iv, err := FromGo(v)
		if err != nil {
			return "", fmt.Errorf("key member %d: %w", i, err)
		}
		arr[i] = iv
	}
	if len(arr) == 1 {
		b, err := MarshalCanonical(arr[0])
		return string(b), err
	}
	b, err := MarshalCanonical(arr)
	return string(b), err
}
