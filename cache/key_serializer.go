package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// MaxSegmentLength is the longest parameter segment kept verbatim. Longer
// segments are replaced by their xxhash digest.
const MaxSegmentLength = 128

// segmentEscaper keeps user-supplied strings from forging separators.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", ",", "%2C", "=", "%3D")

type keySerializer struct {
	namespace string
}

// NewKeySerializer returns a serializer that prefixes every key with namespace.
// An empty namespace produces bare endpoint keys.
func NewKeySerializer(namespace string) KeySerializer {
	return &keySerializer{namespace: namespace}
}

// NewDefaultKeySerializer returns a serializer without namespace.
func NewDefaultKeySerializer() KeySerializer {
	return &keySerializer{}
}

// SerializeKey joins namespace, endpoint and one segment per parameter.
func (s *keySerializer) SerializeKey(endpoint string, params ...any) string {
	parts := make([]string, 0, len(params)+2)
	if s.namespace != "" {
		parts = append(parts, s.namespace)
	}
	parts = append(parts, endpoint)
	for _, p := range params {
		parts = append(parts, digestLong(serializeValue(reflect.ValueOf(p))))
	}
	return strings.Join(parts, KeySeparator)
}

func digestLong(segment string) string {
	if len(segment) <= MaxSegmentLength {
		return segment
	}
	return "h:" + strconv.FormatUint(xxhash.Sum64String(segment), 16)
}

func serializeValue(rv reflect.Value) string {
	if !rv.IsValid() {
		return "nil"
	}

	if rv.Type() == reflect.TypeOf(url.Values{}) {
		return serializeValues(rv.Interface().(url.Values))
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem())
	case reflect.String:
		return segmentEscaper.Replace(rv.String())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "[]"
		}
		elems := make([]string, rv.Len())
		for i := range elems {
			elems[i] = serializeValue(rv.Index(i))
		}
		return "[" + strings.Join(elems, ",") + "]"
	case reflect.Map:
		return serializeMap(rv)
	case reflect.Struct:
		return serializeStruct(rv)
	}

	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return fmt.Sprintf("%s:%v", rv.Type(), rv.Interface())
	}
	return "json:" + string(data)
}

func serializeValues(v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := make([]string, len(v[k]))
		for i, s := range v[k] {
			vals[i] = segmentEscaper.Replace(s)
		}
		pairs = append(pairs, segmentEscaper.Replace(k)+"="+strings.Join(vals, "|"))
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// serializeMap sorts entries by their serialized key.
func serializeMap(rv reflect.Value) string {
	if rv.IsNil() {
		return "{}"
	}
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, serializeValue(iter.Key())+"="+serializeValue(iter.Value()))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

// serializeStruct writes exported, non-zero fields in declaration order. Zero
// fields are omitted so "unset" filters do not change the key.
func serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if fv.IsZero() {
			continue
		}
		parts = append(parts, field.Name+"="+serializeValue(fv))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
