package types

// EnvelopeKind is the discriminator for a tagged envelope crossing the
// host<->worker boundary.
type EnvelopeKind string

const (
	EnvelopeBytes           EnvelopeKind = "bytes"
	EnvelopeNdarray         EnvelopeKind = "ndarray"
	EnvelopeDataframe       EnvelopeKind = "dataframe"
	EnvelopeSeries          EnvelopeKind = "series"
	EnvelopeTorchTensor     EnvelopeKind = "torch.tensor"
	EnvelopeSklearnEstimator EnvelopeKind = "sklearn.estimator"
	EnvelopeScipySparse     EnvelopeKind = "scipy.sparse"
)

// Encoding is how an envelope's payload is encoded.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingArrow   Encoding = "arrow"
	EncodingNdarray Encoding = "ndarray"
)

// CurrentCodecVersion is the only envelope codec version this module
// understands. Envelopes carrying any other codecVersion are rejected.
const CurrentCodecVersion = 1

// BytesMarkerKey is the JSON marker SafeCodec's base64 mode wraps binary
// data in.
const BytesMarkerKey = "__tywrap_bytes__"

// Envelope is the generic tagged-object shape every envelope kind shares
// before kind-specific fields are interpreted. Type and CodecVersion decide
// how B64/Data and the kind-specific fields are interpreted by the decoder.
type Envelope struct {
	Type         EnvelopeKind `json:"__tywrap_type__"`
	CodecVersion int          `json:"codecVersion"`
	Encoding     Encoding     `json:"encoding,omitempty"`

	// B64 holds base64 binary payloads (bytes envelope, or arrow-encoded
	// ndarray/dataframe/series).
	B64 string `json:"b64,omitempty"`
	// Data holds an inline JSON payload for encoding=json envelopes.
	Data any `json:"data,omitempty"`

	// Shape/Dtype describe an ndarray-like payload.
	Shape []int  `json:"shape,omitempty"`
	Dtype string `json:"dtype,omitempty"`

	// Nested holds the wrapped ndarray envelope of a torch.tensor.
	Nested *Envelope `json:"nested,omitempty"`
	Device string    `json:"device,omitempty"`

	// Sparse matrix fields (scipy.sparse).
	Format  string `json:"format,omitempty"`
	Indices []int  `json:"indices,omitempty"`
	Indptr  []int  `json:"indptr,omitempty"`
	Row     []int  `json:"row,omitempty"`
	Col     []int  `json:"col,omitempty"`

	// Estimator fields (sklearn.estimator).
	ClassName string         `json:"className,omitempty"`
	Module    string         `json:"module,omitempty"`
	Version   string         `json:"version,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// DecodedTensor is the host-native representation of a torch.tensor
// envelope after its nested ndarray envelope has been decoded.
type DecodedTensor struct {
	Data   any    `json:"data"`
	Shape  []int  `json:"shape"`
	Dtype  string `json:"dtype"`
	Device string `json:"device"`
}
