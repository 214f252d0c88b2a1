// Package command defines the envelopes exchanged between the host manager
// and a host's execution surface.
//
// A Request carries an ordered batch of commands, a caller-assigned sequence
// number and a stop-on-error flag. A Response carries the same sequence
// number and one Answer per executed command:
//
//	req := &command.Request{HostID: 7, Sequence: 42, Commands: cmds, StopOnError: true}
//	resp := command.NewResponse(req, answers)
//
// len(resp.Answers) never exceeds len(req.Commands). The two are equal
// unless StopOnError cut the batch short at the first failing answer.
//
// CronCommand marks a command that should repeat at a fixed interval rather
// than run once. StartupAnswer is the handshake answer that tells an attache
// which ping interval the host agreed to.
//
// Commands and answers are always handled by pointer.
package command
