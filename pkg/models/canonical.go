package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// StableStringify returns a compact JSON encoding of v with object keys
// sorted recursively at every depth. Array element order is preserved. The
// result is the ordering key used when sorting errors by their refs and the
// payload hashed for receipt storage.
func StableStringify(v interface{}) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCompact(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalCanonical returns a two-space-indented JSON encoding of v with
// object keys sorted recursively. Identical input values always produce
// identical bytes; there is no trailing newline.
func MarshalCanonical(v interface{}) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeIndented(&buf, tree, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SpecHash is the content address of a raw DIL document: hex sha256 of the
// exact input bytes. Used as the cache and receipt lookup key.
func SpecHash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// toTree converts any JSON-encodable value into the generic
// map/slice/scalar tree the canonical writers operate on. Numbers are kept
// as json.Number so their textual form survives the round trip.
func toTree(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func writeCompact(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, _ := json.Marshal(t)
		buf.Write(b)
	case json.Number:
		buf.WriteString(t.String())
	case []interface{}:
		buf.WriteString("[")
		for i, vv := range t {
			if i > 0 {
				buf.WriteString(",")
			}
			if err := writeCompact(buf, vv); err != nil {
				return err
			}
		}
		buf.WriteString("]")
	case map[string]interface{}:
		buf.WriteString("{")
		for i, k := range sortedKeys(t) {
			if i > 0 {
				buf.WriteString(",")
			}
			ks, _ := json.Marshal(k)
			buf.Write(ks)
			buf.WriteString(":")
			if err := writeCompact(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteString("}")
	default:
		return errors.New("unsupported json type")
	}
	return nil
}

func writeIndented(buf *bytes.Buffer, v interface{}, depth int) error {
	switch t := v.(type) {
	case []interface{}:
		if len(t) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, vv := range t {
			if i > 0 {
				buf.WriteString(",\n")
			}
			buf.WriteString(indent(depth + 1))
			if err := writeIndented(buf, vv, depth+1); err != nil {
				return err
			}
		}
		buf.WriteString("\n")
		buf.WriteString(indent(depth))
		buf.WriteString("]")
	case map[string]interface{}:
		if len(t) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i, k := range sortedKeys(t) {
			if i > 0 {
				buf.WriteString(",\n")
			}
			buf.WriteString(indent(depth + 1))
			ks, _ := json.Marshal(k)
			buf.Write(ks)
			buf.WriteString(": ")
			if err := writeIndented(buf, t[k], depth+1); err != nil {
				return err
			}
		}
		buf.WriteString("\n")
		buf.WriteString(indent(depth))
		buf.WriteString("}")
	default:
		return writeCompact(buf, v)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}
