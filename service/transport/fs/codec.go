package fs

import (
	"encoding/json"
	"fmt"

	"github.com/mrafieir/mpi-fanout/extension"
	"github.com/mrafieir/mpi-fanout/model/task"
	"github.com/mrafieir/mpi-fanout/service/transport"
)

// resultTypeName marks RESULT payloads on the wire.
const resultTypeName = "task.Result"

// wireEnvelope is the serialised form of a transport envelope. Type carries
// the registered payload type name so the receiving process can decode the
// payload into its concrete Go type; without it the payload decodes as
// generic JSON.
type wireEnvelope struct {
	Kind    transport.Kind  `json:"kind"`
	TaskID  int             `json:"taskID"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wireResult is the serialised form of a RESULT payload. The output is kept
// as raw JSON next to its own registered type name so that a master in
// another process can decode typed outputs.
type wireResult struct {
	TaskID int             `json:"taskID"`
	Type   string          `json:"type,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Err    string          `json:"err,omitempty"`
}

type codec struct {
	types *extension.Types
}

func newCodec(types *extension.Types) *codec {
	if types == nil {
		types = extension.NewTypes()
	}
	return &codec{types: types}
}

func (c *codec) encode(env transport.Envelope) ([]byte, error) {
	wire := wireEnvelope{Kind: env.Kind, TaskID: env.TaskID}
	if env.Kind == transport.KindResult {
		if res := env.Result(); res != nil {
			raw, err := c.encodeResult(res)
			if err != nil {
				return nil, err
			}
			wire.Type = resultTypeName
			wire.Payload = raw
			return marshalEnvelope(wire)
		}
	}
	if env.Payload != nil {
		raw, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		wire.Payload = raw
		if name, ok := c.types.NameOf(env.Payload); ok {
			wire.Type = name
		}
	}
	return marshalEnvelope(wire)
}

func marshalEnvelope(wire wireEnvelope) ([]byte, error) {
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func (c *codec) encodeResult(res *task.Result) ([]byte, error) {
	wire := wireResult{TaskID: res.TaskID, Err: res.Err}
	if res.Output != nil {
		raw, err := json.Marshal(res.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result output: %w", err)
		}
		wire.Output = raw
		if name, ok := c.types.NameOf(res.Output); ok {
			wire.Type = name
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

func (c *codec) decode(data []byte) (transport.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return transport.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	env := transport.Envelope{Kind: wire.Kind, TaskID: wire.TaskID}
	if len(wire.Payload) == 0 {
		return env, nil
	}
	if wire.Type == resultTypeName {
		res, err := c.decodeResult(wire.Payload)
		if err != nil {
			return transport.Envelope{}, err
		}
		env.Payload = res
		return env, nil
	}
	if wire.Type != "" {
		if value, ok := c.types.New(wire.Type); ok {
			if err := json.Unmarshal(wire.Payload, value); err != nil {
				return transport.Envelope{}, fmt.Errorf("failed to unmarshal %v payload: %w", wire.Type, err)
			}
			env.Payload = value
			return env, nil
		}
	}
	var generic interface{}
	if err := json.Unmarshal(wire.Payload, &generic); err != nil {
		return transport.Envelope{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	env.Payload = generic
	return env, nil
}

func (c *codec) decodeResult(data []byte) (*task.Result, error) {
	var wire wireResult
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	res := &task.Result{TaskID: wire.TaskID, Err: wire.Err}
	if len(wire.Output) == 0 {
		return res, nil
	}
	if wire.Type != "" {
		if value, ok := c.types.New(wire.Type); ok {
			if err := json.Unmarshal(wire.Output, value); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %v output: %w", wire.Type, err)
			}
			res.Output = value
			return res, nil
		}
	}
	var generic interface{}
	if err := json.Unmarshal(wire.Output, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result output: %w", err)
	}
	res.Output = generic
	return res, nil
}
