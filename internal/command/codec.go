// ABOUTME: JSON codec mapping {"type": ...} objects onto concrete commands.
// ABOUTME: Used by the HTTP API to accept command batches.

package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when a payload names a command type that is not registered.
var ErrUnknownType = errors.New("unknown command type")

var factories = map[string]func() Command{
	TypePing:           func() Command { return &PingCommand{} },
	TypeEcho:           func() Command { return &EchoCommand{} },
	TypeGetHostStats:   func() Command { return &GetHostStatsCommand{} },
	TypeMaintain:       func() Command { return &MaintainCommand{} },
	TypeUpdatePassword: func() Command { return &UpdatePasswordCommand{} },
	TypeWatchStats:     func() Command { return &WatchStatsCommand{} },
}

// Decode parses a single command object.
func Decode(data []byte) (Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	if head.Type == "" {
		return nil, errors.New("decoding command: missing type")
	}
	factory, ok := factories[head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	cmd := factory()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decoding %s command: %w", head.Type, err)
	}
	return cmd, nil
}

// DecodeAll parses a batch, failing on the first bad element.
func DecodeAll(raw []json.RawMessage) ([]Command, error) {
	cmds := make([]Command, 0, len(raw))
	for i, r := range raw {
		cmd, err := Decode(r)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// Encode renders cmd as a JSON object with its type field set.
func Encode(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("command %s does not encode as an object", cmd.Type())
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(cmd.Type())
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
