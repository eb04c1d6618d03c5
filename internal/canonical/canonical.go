package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// CyclePlaceholder is emitted in place of a node that is already being
// serialized when Options.AllowCycles is set.
const CyclePlaceholder = "__cycle__"

// Absent marks a mapping value that must be left out of the output entirely.
// Inside a sequence it serializes as null.
var Absent = absent{}

type absent struct{}

// Options controls canonical serialization.
// The zero value rejects cycles and leaves strings untouched.
type Options struct {
	// AllowCycles replaces a revisited in-progress node with CyclePlaceholder
	// instead of failing with CircularStructureError.
	AllowCycles bool

	// NormalizeNFC applies Unicode NFC normalization to strings and keys.
	NormalizeNFC bool
}

// Marshal produces the canonical serialization of v with default options.
func Marshal(v any) ([]byte, error) {
	return Options{}.Marshal(v)
}

// Marshal produces the canonical serialization of v.
//
// Two structurally equal values always produce identical bytes:
//   - mapping keys are emitted in code point order
//   - sequence order is preserved
//   - Absent mapping values are omitted
//   - numbers use their shortest round-trip decimal form
//
// The output feeds content digests, so any change here changes every
// fingerprint computed from it.
func (o Options) Marshal(v any) ([]byte, error) {
	if _, ok := v.(absent); ok {
		return nil, fmt.Errorf("canonical: absent value at $")
	}
	e := &encoder{opts: o, active: make(map[identity]struct{})}
	if err := e.encode(v, "$"); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// identity names a reference node (map, slice backing array, pointer) for
// cycle detection. Slices are keyed by length too so that a prefix sharing
// the parent's backing array is not mistaken for the parent.
type identity struct {
	kind reflect.Kind
	ptr  uintptr
	n    int
}

type encoder struct {
	opts   Options
	buf    bytes.Buffer
	active map[identity]struct{}
}

func (e *encoder) encode(v any, path string) error {
	switch val := v.(type) {
	case nil:
		e.buf.WriteString("null")
		return nil
	case absent:
		e.buf.WriteString("null")
		return nil
	case string:
		e.writeString(val)
		return nil
	case bool:
		if val {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
		return nil
	case json.Number:
		return e.writeNumber(val, path)
	case int:
		e.buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		e.buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case float64:
		return e.writeFloat(val, path)
	case map[string]any:
		if val == nil {
			e.buf.WriteString("null")
			return nil
		}
		return e.visit(reflect.ValueOf(val), path, func() error {
			return e.encodeStringMap(val, path)
		})
	case []any:
		if val == nil {
			e.buf.WriteString("null")
			return nil
		}
		return e.visit(reflect.ValueOf(val), path, func() error {
			return e.encodeSequence(len(val), func(i int) any { return val[i] }, path)
		})
	case json.RawMessage:
		return e.encodeDecoded(val, path)
	case json.Marshaler:
		raw, err := val.MarshalJSON()
		if err != nil {
			return fmt.Errorf("canonical: %s: %w", path, err)
		}
		return e.encodeDecoded(raw, path)
	}
	return e.encodeReflect(reflect.ValueOf(v), path)
}

func (e *encoder) encodeReflect(rv reflect.Value, path string) error {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.visit(rv, path, func() error {
			return e.encode(rv.Elem().Interface(), path)
		})
	case reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(rv.Elem().Interface(), path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &UnsupportedTypeError{Type: rv.Type().String(), Path: path}
		}
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.visit(rv, path, func() error {
			return e.encodeReflectMap(rv, path)
		})
	case reflect.Slice:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.writeString(base64.StdEncoding.EncodeToString(rv.Bytes()))
			return nil
		}
		return e.visit(rv, path, func() error {
			return e.encodeSequence(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, path)
		})
	case reflect.Array:
		return e.encodeSequence(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, path)
	case reflect.String:
		e.writeString(rv.String())
		return nil
	case reflect.Bool:
		return e.encode(rv.Bool(), path)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return e.writeFloat(rv.Float(), path)
	case reflect.Struct:
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return fmt.Errorf("canonical: %s: %w", path, err)
		}
		return e.encodeDecoded(raw, path)
	default:
		return &UnsupportedTypeError{Type: rv.Type().String(), Path: path}
	}
}

// visit tracks rv as in progress for the duration of body.
func (e *encoder) visit(rv reflect.Value, path string, body func() error) error {
	id := identity{kind: rv.Kind(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return body()
		}
		id.n = rv.Len()
	}
	if _, seen := e.active[id]; seen {
		if e.opts.AllowCycles {
			e.writeString(CyclePlaceholder)
			return nil
		}
		return &CircularStructureError{Path: path}
	}
	e.active[id] = struct{}{}
	defer delete(e.active, id)
	return body()
}

func (e *encoder) encodeStringMap(m map[string]any, path string) error {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if _, skip := v.(absent); skip {
			continue
		}
		keys = append(keys, k)
	}
	return e.encodeObject(keys, func(k string) any { return m[k] }, path)
}

func (e *encoder) encodeReflectMap(rv reflect.Value, path string) error {
	values := make(map[string]any, rv.Len())
	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		val := iter.Value().Interface()
		if _, skip := val.(absent); skip {
			continue
		}
		k := iter.Key().String()
		keys = append(keys, k)
		values[k] = val
	}
	return e.encodeObject(keys, func(k string) any { return values[k] }, path)
}

func (e *encoder) encodeObject(keys []string, lookup func(string) any, path string) error {
	type entry struct {
		emitted string
		key     string
	}
	entries := make([]entry, len(keys))
	for i, k := range keys {
		emitted := k
		if e.opts.NormalizeNFC {
			emitted = norm.NFC.String(k)
		}
		entries[i] = entry{emitted: emitted, key: k}
	}
	// Go string comparison is byte-wise over UTF-8, which is code point order.
	slices.SortFunc(entries, func(a, b entry) int {
		return strings.Compare(a.emitted, b.emitted)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].emitted == entries[i-1].emitted {
			return &DuplicateKeyError{Key: entries[i].emitted, Path: path}
		}
	}

	e.buf.WriteByte('{')
	for i, en := range entries {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.writeString(en.key)
		e.buf.WriteByte(':')
		if err := e.encode(lookup(en.key), path+"."+en.key); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) encodeSequence(n int, at func(int) any, path string) error {
	e.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(at(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

// encodeDecoded re-reads standard JSON output and serializes it canonically.
func (e *encoder) encodeDecoded(raw []byte, path string) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("canonical: %s: %w", path, err)
	}
	return e.encode(v, path)
}

const hexDigits = "0123456789abcdef"

// writeString emits s as a quoted JSON string. Only the quote, backslash
// and C0 controls are escaped; HTML characters and U+2028/U+2029 are
// written as-is.
func (e *encoder) writeString(s string) {
	if e.opts.NormalizeNFC {
		s = norm.NFC.String(s)
	}
	b := &e.buf
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\b':
				b.WriteString(`\b`)
			case '\f':
				b.WriteString(`\f`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				if c < 0x20 {
					b.WriteString(`\u00`)
					b.WriteByte(hexDigits[c>>4])
					b.WriteByte(hexDigits[c&0xF])
				} else {
					b.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteString("\uFFFD")
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	b.WriteByte('"')
}

func (e *encoder) writeNumber(n json.Number, path string) error {
	s := n.String()
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		e.buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("canonical: %s: invalid number %q", path, s)
	}
	return e.writeFloat(f, path)
}

func (e *encoder) writeFloat(f float64, path string) error {
	s, err := FormatFloat(f)
	if err != nil {
		return fmt.Errorf("canonical: %s: %w", path, err)
	}
	e.buf.WriteString(s)
	return nil
}

// FormatFloat renders f in shortest round-trip form using ECMAScript
// number-to-string layout: plain decimal for 1e-6 <= |f| < 1e21, otherwise
// exponent notation without exponent zero padding ("1e+21", "1.5e-7").
func FormatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("unsupported number %v", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + sign + digits, nil
}
