package marionette

import (
	"encoding/json"
	"fmt"

	"github.com/ysmood/gson"

	"github.com/skarab42/pantin/internal/types"
)

// Wire message types, the first element of the 4-tuple (§3, §4.B).
const (
	typeRequest     = 0
	typeResponseOK  = 1
	typeResponseErr = 2
)

// request is the `[0, id, name, params]` tuple sent to the server.
type request struct {
	id     int32
	name   string
	params interface{}
}

func (r request) encode() ([]byte, error) {
	return EncodeMessage([4]interface{}{typeRequest, r.id, r.name, r.params})
}

// response is a decoded `[1, id, _, result]` or `[2, id, _, error]` tuple.
type response struct {
	id     int32
	ok     bool
	result gson.JSON
	err    *types.MarionetteError
}

// parseResponse decodes a frame payload into a response. The payload must
// be a 4-element JSON array whose type is 1 or 2; any other shape or type
// is returned as an error.
func parseResponse(payload []byte) (*response, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(payload, &tuple); err != nil {
		return nil, fmt.Errorf("marionette: decode message: %w", err)
	}
	if len(tuple) != 4 {
		return nil, fmt.Errorf("marionette: expected a 4-element message, got %d", len(tuple))
	}

	var kind int
	if err := json.Unmarshal(tuple[0], &kind); err != nil {
		return nil, fmt.Errorf("marionette: decode message type: %w", err)
	}

	var id int32
	if err := json.Unmarshal(tuple[1], &id); err != nil {
		return nil, fmt.Errorf("marionette: decode message id: %w", err)
	}

	resp := &response{id: id}

	switch kind {
	case typeResponseOK:
		var val interface{}
		if err := json.Unmarshal(tuple[3], &val); err != nil {
			return nil, fmt.Errorf("marionette: decode result: %w", err)
		}
		resp.ok = true
		resp.result = gson.New(val)

	case typeResponseErr:
		var errObj struct {
			Error      string `json:"error"`
			Message    string `json:"message"`
			Stacktrace string `json:"stacktrace"`
		}
		if err := json.Unmarshal(tuple[3], &errObj); err != nil {
			return nil, fmt.Errorf("marionette: decode error object: %w", err)
		}
		resp.ok = false
		resp.err = &types.MarionetteError{
			Code:       errObj.Error,
			Message:    errObj.Message,
			Stacktrace: errObj.Stacktrace,
		}

	default:
		return nil, fmt.Errorf("marionette: unexpected message type %d", kind)
	}

	return resp, nil
}

// handshake is the unsolicited server-hello object sent immediately
// after connect, before any framed 4-tuple traffic.
type handshake struct {
	MarionetteProtocol int    `json:"marionetteProtocol"`
	ApplicationType    string `json:"applicationType"`
}
