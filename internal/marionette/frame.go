// Package marionette implements the Gecko Marionette wire protocol: a
// length-prefixed JSON "netstring" framing over TCP (§4.B), request/
// response correlation by message id, and typed client commands (§4.C).
package marionette

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLengthDigits bounds the decimal length prefix; a frame claiming a
// length with more digits than this is rejected rather than read, per
// §4.B ("reject if > 10 digits or non-digit").
const maxLengthDigits = 10

// ErrBadFrame is returned for a malformed netstring length prefix.
var ErrBadFrame = errors.New("marionette: malformed frame length prefix")

// EncodeFrame wraps payload (a pre-marshaled JSON value) in the
// `<decimal-length>:<json-bytes>` netstring framing.
func EncodeFrame(payload []byte) []byte {
	prefix := fmt.Appendf(nil, "%d:", len(payload))
	return append(prefix, payload...)
}

// EncodeMessage marshals v to JSON and frames it.
func EncodeMessage(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marionette: encode message: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeFrame reads one netstring frame from r: digits up to ':',
// rejecting more than maxLengthDigits digits or a non-digit byte, then
// exactly that many bytes of JSON payload.
func DecodeFrame(r *bufio.Reader) ([]byte, error) {
	var digits []byte

	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(digits) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("marionette: read frame length: %w", err)
		}

		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return nil, ErrBadFrame
		}
		digits = append(digits, b)
		if len(digits) > maxLengthDigits {
			return nil, ErrBadFrame
		}
	}

	if len(digits) == 0 {
		return nil, ErrBadFrame
	}

	length := 0
	for _, d := range digits {
		length = length*10 + int(d-'0')
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("marionette: read frame payload: %w", err)
	}

	return payload, nil
}
