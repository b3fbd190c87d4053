package rtmp

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	amf0 "github.com/yutopp/go-amf0"
)

// encodeCommand AMF0-encodes a sequence of values into one message
// body: an RTMP command message is simply several AMF0 values
// concatenated (command name, transaction id, command object, then
// any further arguments), not a single composite value.
func encodeCommand(values ...interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := amf0.Encode(&buf, v); err != nil {
			return nil, fmt.Errorf("rtmp: encode AMF0 value %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// decodeCommandValues decodes every AMF0 value out of a command
// message body, in order.
func decodeCommandValues(payload []byte) ([]interface{}, error) {
	r := bytes.NewReader(payload)
	var values []interface{}
	for {
		v, err := amf0.Decode(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rtmp: decode AMF0 value: %w", err)
		}
		values = append(values, v)
	}
	return values, nil
}

// commandResult is the outcome of a _result/_error command response:
// the command name ("_result" or "_error"), its transaction id, and
// any further arguments (e.g. the new stream id from createStream).
type commandResult struct {
	name   string
	txnID  float64
	values []interface{}
}

func parseCommandResult(payload []byte) (*commandResult, error) {
	values, err := decodeCommandValues(payload)
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("rtmp: command response has %d values, want >= 2", len(values))
	}
	name, ok := values[0].(string)
	if !ok {
		return nil, fmt.Errorf("rtmp: command response name is %T, want string", values[0])
	}
	txnID, ok := values[1].(float64)
	if !ok {
		return nil, fmt.Errorf("rtmp: command response transaction id is %T, want float64", values[1])
	}
	return &commandResult{name: name, txnID: txnID, values: values[2:]}, nil
}
