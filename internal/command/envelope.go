// ABOUTME: Request and Response envelopes correlated by sequence number.
// ABOUTME: Both render as compact JSON for trace logging.

package command

import (
	"encoding/json"
	"fmt"
)

// Envelope is either a *Request or a *Response.
type Envelope interface {
	Seq() int64
	String() string
}

// Request is an ordered batch of commands for one host.
type Request struct {
	HostID      int64
	Sequence    int64
	Commands    []Command
	StopOnError bool
}

// NewRequest builds a request for a single command.
func NewRequest(hostID, seq int64, cmd Command, stopOnError bool) *Request {
	return &Request{HostID: hostID, Sequence: seq, Commands: []Command{cmd}, StopOnError: stopOnError}
}

func (r *Request) Seq() int64 { return r.Sequence }

// First returns the first command, or nil for an empty batch.
func (r *Request) First() Command {
	if len(r.Commands) == 0 {
		return nil
	}
	return r.Commands[0]
}

func (r *Request) String() string {
	cmds := make([]json.RawMessage, 0, len(r.Commands))
	for _, cmd := range r.Commands {
		raw, err := Encode(cmd)
		if err != nil {
			raw, _ = json.Marshal(map[string]string{"type": cmd.Type(), "error": err.Error()})
		}
		cmds = append(cmds, raw)
	}
	return render(struct {
		HostID      int64             `json:"host_id"`
		Seq         int64             `json:"seq"`
		StopOnError bool              `json:"stop_on_error"`
		Commands    []json.RawMessage `json:"commands"`
	}{r.HostID, r.Sequence, r.StopOnError, cmds})
}

// Response carries the answers for a Request.
type Response struct {
	HostID   int64
	Sequence int64
	Answers  []Answer
}

// NewResponse correlates answers with the request that produced them.
func NewResponse(req *Request, answers []Answer) *Response {
	return &Response{HostID: req.HostID, Sequence: req.Sequence, Answers: answers}
}

func (r *Response) Seq() int64 { return r.Sequence }

// Succeeded reports whether every answer succeeded. An empty response has not.
func (r *Response) Succeeded() bool {
	if len(r.Answers) == 0 {
		return false
	}
	for _, a := range r.Answers {
		if !a.Succeeded() {
			return false
		}
	}
	return true
}

func (r *Response) String() string {
	return render(struct {
		HostID  int64    `json:"host_id"`
		Seq     int64    `json:"seq"`
		Answers []Answer `json:"answers"`
	}{r.HostID, r.Sequence, r.Answers})
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unrenderable envelope: %v>", err)
	}
	return string(b)
}
