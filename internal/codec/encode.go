package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/dustin/go-humanize"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
	"github.com/tywrap/hostbridge/pkg/types"
)

// Codec is the SafeCodec. It is safe for concurrent use; all state is either
// immutable Options or the process-wide Arrow decoder registration (see
// arrow.go), which is guarded separately.
type Codec struct {
	opts Options
}

// New constructs a Codec with the given options. Zero-value fields for
// BytesHandling/MaxPayloadBytes fall back to their documented defaults; the
// two Reject* booleans do not have an implicit default — pass
// DefaultOptions() and override fields to keep the spec's "on by default"
// behavior.
func New(opts Options) *Codec {
	return &Codec{opts: opts.normalized()}
}

// cycleGuard tracks the reference-typed values (slices, maps) currently on
// the recursion stack so that a circular reference is reported as a
// CodecError instead of recursing forever.
type cycleGuard struct {
	active map[uintptr]bool
}

func newCycleGuard() *cycleGuard { return &cycleGuard{active: map[uintptr]bool{}} }

func (g *cycleGuard) enter(v reflect.Value, path string) (func(), error) {
	k := v.Kind()
	if k != reflect.Map && k != reflect.Slice && k != reflect.Ptr {
		return func() {}, nil
	}
	if v.IsNil() {
		return func() {}, nil
	}
	ptr := v.Pointer()
	if g.active[ptr] {
		return nil, bridgeerr.Codec(path, "circular reference detected")
	}
	g.active[ptr] = true
	return func() { delete(g.active, ptr) }, nil
}

// EncodeRequest validates msg.Params and returns the marshaled request line
// (without trailing newline; Transport/Framer own line termination).
func (c *Codec) EncodeRequest(msg *types.Message) ([]byte, error) {
	cleaned, err := c.encodeValue(msg.Params, "params", newCycleGuard())
	if err != nil {
		return nil, err
	}
	wire := struct {
		ID       uint64      `json:"id"`
		Protocol string      `json:"protocol"`
		Method   types.Method `json:"method"`
		Params   any         `json:"params"`
	}{ID: msg.ID, Protocol: types.ProtocolName, Method: msg.Method, Params: cleaned}

	data, err := json.Marshal(wire)
	if err != nil {
		// Functions and other non-JSON-representable values were already
		// stripped by encodeValue; a Marshal failure here means something
		// genuinely has no JSON representation (e.g. a NaN that slipped
		// through a custom MarshalJSON, or an arbitrary-precision number
		// type we don't special-case).
		return nil, bridgeerr.Wrap(bridgeerr.KindCodec, err, "value has no JSON representation")
	}

	if uint64(len(data)) > c.opts.MaxPayloadBytes {
		return nil, bridgeerr.CodecSize("", uint64(len(data)), c.opts.MaxPayloadBytes)
	}
	return data, nil
}

// encodeValue walks v, producing a tree of only JSON-marshalable Go values
// (map[string]any, []any, string, float64/int64, bool, nil, or a bytes
// envelope map) while enforcing the codec's encode-time invariants.
func (c *Codec) encodeValue(v any, path string, guard *cycleGuard) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch val := v.(type) {
	case []byte:
		return c.encodeBytes(val, path)
	case string:
		return val, nil
	case bool:
		return val, nil
	case float32:
		return c.encodeFloat(float64(val), path)
	case float64:
		return c.encodeFloat(val, path)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// Functions have no JSON representation; the underlying encoder
		// silently drops them. We mirror that by returning a sentinel the
		// caller (map/slice walker) knows to omit.
		return omit{}, nil

	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return c.encodeValue(rv.Elem().Interface(), path, guard)

	case reflect.Slice, reflect.Array:
		leave, err := guard.enter(rv, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			ev, err := c.encodeValue(rv.Index(i).Interface(), elemPath, guard)
			if err != nil {
				return nil, err
			}
			if _, isOmit := ev.(omit); isOmit {
				// Arrays drop a dangling function element as null, matching
				// the underlying JSON encoder's array behavior.
				ev = nil
			}
			out = append(out, ev)
		}
		return out, nil

	case reflect.Map:
		leave, err := guard.enter(rv, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		if rv.Type().Key().Kind() != reflect.String && c.opts.RejectNonStringKeys {
			return nil, bridgeerr.Codec(path, "mapping key is not a string")
		}
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			keyStr, ok := mapKeyString(key)
			if !ok {
				if c.opts.RejectNonStringKeys {
					return nil, bridgeerr.Codec(path, "mapping key is not a string")
				}
				keyStr = fmt.Sprintf("%v", key.Interface())
			}
			elemPath := fmt.Sprintf("%s.%s", path, keyStr)
			ev, err := c.encodeValue(rv.MapIndex(key).Interface(), elemPath, guard)
			if err != nil {
				return nil, err
			}
			if _, isOmit := ev.(omit); isOmit {
				continue // object properties whose value is a function are dropped
			}
			out[keyStr] = ev
		}
		return out, nil

	case reflect.Struct:
		// Structs round-trip through their JSON tags; fields with no JSON
		// representation (funcs, chans) are already excluded by
		// encoding/json itself when marshaling the final tree, so we pass
		// the struct through as-is rather than reinventing reflection-based
		// struct marshaling.
		return v, nil

	default:
		return nil, bridgeerr.Codec(path, "value has no JSON representation (kind %s)", rv.Kind())
	}
}

// omit is a sentinel returned by encodeValue for values the JSON encoder
// silently drops (functions, channels).
type omit struct{}

func mapKeyString(key reflect.Value) (string, bool) {
	if key.Kind() == reflect.String {
		return key.String(), true
	}
	return "", false
}

func (c *Codec) encodeFloat(f float64, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		if c.opts.RejectSpecialFloats {
			return nil, bridgeerr.Codec(path, "number is not finite (NaN/Infinity)")
		}
		// Not rejected: encoding/json itself errors on NaN/Inf, so the only
		// way to "accept" one per the documented passthrough is to encode it
		// as null, matching common JSON-library leniency modes.
		return nil, nil
	}
	return f, nil
}

func (c *Codec) encodeBytes(b []byte, path string) (any, error) {
	switch c.opts.BytesHandling {
	case BytesReject:
		return nil, bridgeerr.Codec(path, "binary data is not allowed (bytesHandling=reject)")
	case BytesPassthrough:
		return string(b), nil
	default: // BytesBase64
		return map[string]any{
			types.BytesMarkerKey: true,
			"b64":                base64.StdEncoding.EncodeToString(b),
		}, nil
	}
}

// humanizeSize formats a byte count with humanize.Bytes. The size checks in
// this package build their messages with bridgeerr.CodecSize rather than
// this helper.
func humanizeSize(n uint64) string { return humanize.Bytes(n) }
