// Package canon implements RFC 8785 JSON Canonicalization (JCS) for tool
// call arguments: lexicographic key sort at every object level, no
// insignificant whitespace, and normalized number formatting. Canonical
// bytes are what DigestValue hashes into the audit record's call hash.
package canon

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize parses a JSON value and re-serializes it in RFC 8785 form.
func Canonicalize(data []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: invalid json: %w", err)
	}
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// CanonicalizeValue canonicalizes an already-decoded Go value (map[string]
// interface{}, []interface{}, or scalar), as produced by json.Unmarshal into
// interface{} or by an in-process arguments map.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encode(sb *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		return encodeNumber(sb, string(val))
	case float64:
		return encodeNumber(sb, strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		sb.WriteString(strconv.Itoa(val))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(b)
	case map[string]interface{}:
		return encodeObject(sb, val)
	case []interface{}:
		return encodeArray(sb, val)
	default:
		// Fallback for typed maps (e.g. map[string]string from config).
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		return encode(sb, generic)
	}
	return nil
}

func encodeObject(sb *strings.Builder, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		sb.Write(kb)
		sb.WriteByte(':')
		if err := encode(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func encodeArray(sb *strings.Builder, a []interface{}) error {
	sb.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := encode(sb, v); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

// encodeNumber normalizes a JSON number per RFC 8785 §3.2.2.3: integral
// values that fit in an int64 are printed without a decimal point or
// exponent; everything else is round-tripped through the shortest
// representation that reparses to the same float64 (the same scheme
// encoding/json itself uses for float64, which the JCS spec says ECMAScript
// engines must match).
func encodeNumber(sb *strings.Builder, lit string) error {
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("canon: invalid number %q: %w", lit, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canon: number %q is not representable in JSON", lit)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	sb.Write(b)
	return nil
}
