// Package codec implements the SafeCodec: the only layer that understands
// host-native values. It validates and serializes values moving host ->
// worker and decodes tagged envelopes moving worker -> host.
//
// Its validating-JSON-walk style (defensive type-switches, no panics on
// malformed input) generalizes the same approach used for parsing a single
// structured JSON reply into one that walks an arbitrary host value tree
// with cycle and size guards.
package codec

// BytesHandling controls how SafeCodec.EncodeRequest treats []byte values.
type BytesHandling string

const (
	// BytesReject fails encoding with a CodecError when binary data is found.
	BytesReject BytesHandling = "reject"
	// BytesBase64 wraps binary data as a {"__tywrap_bytes__":true,"b64":"..."}
	// envelope. This is the default.
	BytesBase64 BytesHandling = "base64"
	// BytesPassthrough emits binary data as-is, which typically produces
	// meaningless JSON; it exists only for migration.
	BytesPassthrough BytesHandling = "passthrough"
)

// DefaultMaxPayloadBytes is the default cap on an encoded or decoded
// payload: 10 MiB.
const DefaultMaxPayloadBytes = 10 * 1024 * 1024

// Options configures a Codec instance.
type Options struct {
	// RejectSpecialFloats fails encoding when a NaN/+Inf/-Inf is found.
	// Default true.
	RejectSpecialFloats bool
	// RejectNonStringKeys fails encoding when a mapping has a non-string
	// key. Default true.
	RejectNonStringKeys bool
	// BytesHandling controls binary payload treatment. Default BytesBase64.
	BytesHandling BytesHandling
	// MaxPayloadBytes caps the UTF-8 encoded length of any single encoded
	// or decoded payload. Default DefaultMaxPayloadBytes.
	MaxPayloadBytes uint64
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		RejectSpecialFloats: true,
		RejectNonStringKeys: true,
		BytesHandling:       BytesBase64,
		MaxPayloadBytes:     DefaultMaxPayloadBytes,
	}
}

func (o Options) normalized() Options {
	if o.BytesHandling == "" {
		o.BytesHandling = BytesBase64
	}
	if o.MaxPayloadBytes == 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return o
}
