package codec

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tywrap/hostbridge/pkg/bridgeerr"
	"github.com/tywrap/hostbridge/pkg/types"
)

// objectPeek describes the discriminator keys of a tagged envelope or a
// bytes marker. The decode path does not use it: envelopes are detected by
// the map lookups in isBytesEnvelope and envelopeKind.
type objectPeek struct {
	Type         *types.EnvelopeKind `json:"__tywrap_type__"`
	CodecVersion *int                `json:"codecVersion"`
	BytesMarker  *bool               `json:"__tywrap_bytes__"`
}

// DecodeResponse parses and decodes a full response line: size check,
// protocol-field validation, result/error exclusivity, and recursive
// envelope decoding of a successful result.
func (c *Codec) DecodeResponse(line []byte) (any, error) {
	if uint64(len(line)) > c.opts.MaxPayloadBytes {
		return nil, bridgeerr.CodecSize("", uint64(len(line)), c.opts.MaxPayloadBytes)
	}

	resp, err := types.ParseRawResponse(line)
	if err != nil {
		return nil, bridgeerr.Protocol("response is not valid JSON: %v", err)
	}
	return c.decodeParsed(resp)
}

// DecodeValue decodes an already-parsed RawResponse's result field, for use
// by internal/protocol once it has handled id correlation and error
// dispatch itself. It re-validates result/error exclusivity as a defensive
// check, since a malformed line should never reach the pool as "success".
func (c *Codec) DecodeValue(resp *types.RawResponse) (any, error) {
	return c.decodeParsed(resp)
}

func (c *Codec) decodeParsed(resp *types.RawResponse) (any, error) {
	if resp.Protocol != "" && resp.Protocol != types.ProtocolName {
		return nil, bridgeerr.Protocol("unsupported protocol %q", resp.Protocol)
	}
	if !resp.HasID {
		return nil, bridgeerr.Protocol("response missing \"id\"")
	}
	if resp.HasResult == resp.HasError {
		// Neither, or both: both are protocol violations. (Neither-with-id
		// is distinguished from a well-formed notification by the protocol
		// layer never emitting notifications in this version.)
		return nil, bridgeerr.Protocol("response must contain exactly one of \"result\" or \"error\"")
	}
	if resp.HasError {
		if !resp.ErrorWellFormed() {
			return nil, bridgeerr.Protocol("malformed error object: requires type and message")
		}
		return nil, bridgeerr.Execution(resp.Error.Type, resp.Error.Message, resp.Error.Traceback)
	}

	var raw any
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, bridgeerr.Protocol("result is not valid JSON: %v", err)
	}
	return c.decodeValue(raw, "result")
}

// decodeValue walks a parsed-JSON tree (map[string]any/[]any/scalars) and
// turns any tagged envelope object into its host-native representation.
func (c *Codec) decodeValue(v any, path string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if isBytesEnvelope(val) {
			return c.decodeBytesEnvelope(val, path)
		}
		if kind, ok := envelopeKind(val); ok {
			return c.decodeEnvelope(kind, val, path)
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			dv, err := c.decodeValue(elem, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			dv, err := c.decodeValue(elem, path)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil

	default:
		return val, nil
	}
}

func isBytesEnvelope(m map[string]any) bool {
	v, ok := m["__tywrap_bytes__"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (c *Codec) decodeBytesEnvelope(m map[string]any, path string) (any, error) {
	b64, _ := m["b64"].(string)
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, bridgeerr.Codec(path, "invalid base64 in bytes envelope: %v", err)
	}
	return data, nil
}

func envelopeKind(m map[string]any) (types.EnvelopeKind, bool) {
	raw, ok := m["__tywrap_type__"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	return types.EnvelopeKind(s), true
}

func (c *Codec) decodeEnvelope(kind types.EnvelopeKind, m map[string]any, path string) (any, error) {
	if v, ok := m["codecVersion"]; !ok {
		return nil, bridgeerr.Codec(path, "envelope missing codecVersion")
	} else if n, ok := toInt(v); !ok || n != types.CurrentCodecVersion {
		return nil, bridgeerr.Codec(path, "unsupported envelope codecVersion %v", v)
	}

	switch kind {
	case types.EnvelopeBytes:
		return c.decodeBytesLikeEnvelope(m, path)

	case types.EnvelopeNdarray:
		return c.decodeNdarray(m, path)

	case types.EnvelopeDataframe, types.EnvelopeSeries:
		return c.decodeTabular(m, path)

	case types.EnvelopeTorchTensor:
		nested, ok := m["nested"].(map[string]any)
		if !ok {
			return nil, bridgeerr.Codec(path, "torch.tensor envelope missing nested ndarray")
		}
		inner, err := c.decodeNdarray(nested, path+".nested")
		if err != nil {
			return nil, err
		}
		innerMap, _ := inner.(map[string]any)
		device, _ := m["device"].(string)
		return types.DecodedTensor{
			Data:   innerMap["data"],
			Shape:  toIntSlice(innerMap["shape"]),
			Dtype:  asString(innerMap["dtype"]),
			Device: device,
		}, nil

	case types.EnvelopeScipySparse:
		return c.decodeScipySparse(m, path)

	case types.EnvelopeSklearnEstimator:
		return c.decodeSklearnEstimator(m, path)

	default:
		return nil, bridgeerr.Codec(path, "unknown envelope type %q", kind)
	}
}

// decodeBytesLikeEnvelope handles the explicit "bytes" __tywrap_type__
// envelope kind (as distinct from the shorthand __tywrap_bytes__ marker
// SafeCodec's own base64 mode emits).
func (c *Codec) decodeBytesLikeEnvelope(m map[string]any, path string) (any, error) {
	b64, _ := m["b64"].(string)
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, bridgeerr.Codec(path, "invalid base64 in bytes envelope: %v", err)
	}
	return data, nil
}

func (c *Codec) decodeNdarray(m map[string]any, path string) (any, error) {
	enc, _ := m["encoding"].(string)
	switch types.Encoding(enc) {
	case types.EncodingArrow:
		return c.decodeArrowPayload(m, path)
	case types.EncodingJSON, "":
		return c.decodeValueMap(m, path, "shape", "dtype", "data")
	default:
		return nil, bridgeerr.Codec(path, "unsupported ndarray encoding %q", enc)
	}
}

func (c *Codec) decodeTabular(m map[string]any, path string) (any, error) {
	enc, _ := m["encoding"].(string)
	switch types.Encoding(enc) {
	case types.EncodingArrow:
		return c.decodeArrowPayload(m, path)
	case types.EncodingJSON, "":
		return c.decodeValueMap(m, path, "data", "dtype", "shape")
	default:
		return nil, bridgeerr.Codec(path, "unsupported tabular encoding %q", enc)
	}
}

// decodeArrowPayload defers to the process-wide Arrow decoder, if one is
// registered; otherwise it returns a CodecError saying that no Arrow
// decoder is registered.
func (c *Codec) decodeArrowPayload(m map[string]any, path string) (any, error) {
	b64, _ := m["b64"].(string)
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, bridgeerr.Codec(path, "invalid base64 in arrow payload: %v", err)
	}
	dec, ok := getArrowDecoder()
	if !ok {
		return nil, bridgeerr.Codec(path, "arrow-encoded payload received but no arrow decoder is registered")
	}
	return dec(raw, m)
}

// decodeScipySparse validates the required fields for a scipy.sparse
// envelope before copying them through: shape must be a 2-tuple, and
// csr/csc matrices require indices+indptr while coo requires row+col.
func (c *Codec) decodeScipySparse(m map[string]any, path string) (any, error) {
	format, ok := m["format"].(string)
	if !ok || format == "" {
		return nil, bridgeerr.Codec(path, "scipy.sparse envelope missing string \"format\"")
	}

	shape, ok := m["shape"].([]any)
	if !ok || len(shape) != 2 {
		return nil, bridgeerr.Codec(path, "scipy.sparse envelope requires a 2-element \"shape\"")
	}
	for _, dim := range shape {
		if _, ok := toInt(dim); !ok {
			return nil, bridgeerr.Codec(path, "scipy.sparse envelope \"shape\" must contain integers")
		}
	}

	switch format {
	case "csr", "csc":
		if _, ok := m["indices"]; !ok {
			return nil, bridgeerr.Codec(path, "scipy.sparse %s envelope missing \"indices\"", format)
		}
		if _, ok := m["indptr"]; !ok {
			return nil, bridgeerr.Codec(path, "scipy.sparse %s envelope missing \"indptr\"", format)
		}
	case "coo":
		if _, ok := m["row"]; !ok {
			return nil, bridgeerr.Codec(path, "scipy.sparse coo envelope missing \"row\"")
		}
		if _, ok := m["col"]; !ok {
			return nil, bridgeerr.Codec(path, "scipy.sparse coo envelope missing \"col\"")
		}
	default:
		return nil, bridgeerr.Codec(path, "unsupported scipy.sparse format %q", format)
	}

	return c.decodeValueMap(m, path, "format", "shape", "data", "indices", "indptr", "row", "col", "dtype")
}

// decodeSklearnEstimator validates that className, module and version are
// non-empty strings and params is a JSON object before copying them through.
func (c *Codec) decodeSklearnEstimator(m map[string]any, path string) (any, error) {
	for _, field := range []string{"className", "module", "version"} {
		s, ok := m[field].(string)
		if !ok || s == "" {
			return nil, bridgeerr.Codec(path, "sklearn.estimator envelope missing string %q", field)
		}
	}
	if _, ok := m["params"].(map[string]any); !ok {
		return nil, bridgeerr.Codec(path, "sklearn.estimator envelope missing object \"params\"")
	}
	return c.decodeValueMap(m, path, "className", "module", "version", "params")
}

func (c *Codec) decodeValueMap(m map[string]any, path string, keys ...string) (any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		dv, err := c.decodeValue(v, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func toIntSlice(v any) []int {
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(s))
	for _, e := range s {
		if n, ok := toInt(e); ok {
			out = append(out, n)
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
