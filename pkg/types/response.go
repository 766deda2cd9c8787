package types

import "encoding/json"

// ParseRawResponse parses a single response line into a RawResponse,
// distinguishing "key absent" from "key present with a zero value" for id,
// result, and error, which the Protocol layer needs to enforce spec
// invariant 2 (exactly one of result/error) and to detect an id-less
// response.
func ParseRawResponse(line []byte) (*RawResponse, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}

	resp := &RawResponse{}

	if idRaw, ok := probe["id"]; ok {
		var id uint64
		if err := json.Unmarshal(idRaw, &id); err == nil {
			resp.ID = &id
			resp.HasID = true
		}
		// A present-but-non-numeric id leaves HasID false, so the Protocol
		// layer treats it the same as a missing id.
	}

	if protoRaw, ok := probe["protocol"]; ok {
		_ = json.Unmarshal(protoRaw, &resp.Protocol)
	}

	if resultRaw, ok := probe["result"]; ok {
		resp.HasResult = true
		resp.Result = RawValue(resultRaw)
	}

	if errRaw, ok := probe["error"]; ok {
		resp.HasError = true
		var we WorkerError
		if err := json.Unmarshal(errRaw, &we); err == nil {
			resp.Error = &we
		}
	}

	return resp, nil
}

// ErrorWellFormed reports whether the parsed error object has the required
// {type, message, traceback?} shape. It is used after HasError is true to
// decide whether the envelope is a ProtocolError (malformed error) or a
// legitimate ExecutionError.
func (r *RawResponse) ErrorWellFormed() bool {
	return r.Error != nil && r.Error.Type != "" && r.Error.Message != ""
}
