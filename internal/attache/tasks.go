// ABOUTME: Ping and command tasks run on the shared pool on behalf of a Direct attache.
// ABOUTME: Both swallow their own failures so a bad run never kills a schedule or worker.

package attache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/logging"
)

const disconnectedDetail = "agent is disconnected"

// pingTask is serialized per instance: two runs of the same task never overlap.
type pingTask struct {
	mu sync.Mutex
	d  *Direct
}

func newPingTask(d *Direct) *pingTask {
	return &pingTask{d: d}
}

func (t *pingTask) run() {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.d
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("unable to complete the ping task", "panic", r)
		}
	}()

	res := d.snapshot()
	if res == nil {
		d.logger.Debug("unable to send ping because agent is disconnected")
		return
	}

	cmd := res.GetCurrentStatus(d.ID())
	if cmd == nil {
		d.logger.Warn("unable to get current status")
		d.mgr.DisconnectWithInvestigation(d, host.EventAgentDisconnected)
		return
	}

	d.logger.Debug("ping")
	seq := d.seq.Add(1) - 1

	ctx := context.Background()
	if d.logger.Enabled(ctx, logging.LevelTrace) {
		d.logger.Log(ctx, logging.LevelTrace, "outbound ping",
			"seq", fmt.Sprintf("%d-%d", d.ID(), seq),
			"request", command.NewRequest(d.ID(), -1, cmd, false).String(),
		)
	}

	d.mgr.HandleCommands(d, seq, []command.Command{cmd})
}

// commandTask executes req against the resource bound when the task starts.
func (d *Direct) commandTask(req *command.Request) func() {
	return func() { d.execute(req) }
}

func (d *Direct) execute(req *command.Request) {
	seq := req.Sequence
	log := d.logger.With("seq", seq)
	defer func() {
		if r := recover(); r != nil {
			log.Warn("exception caught while running request", "panic", r)
		}
	}()

	res := d.snapshot()
	stopOnError := req.StopOnError
	cmds := req.Commands

	log.Debug("executing request", "commands", len(cmds))

	answers := make([]command.Answer, 0, len(cmds))
	for i, cmd := range cmds {
		answer := executeOne(res, cmd, log)
		answers = append(answers, answer)
		if !answer.Succeeded() && stopOnError {
			if i < len(cmds)-1 {
				log.Debug("cancelling remaining commands, stop on error", "failed", cmd.Type(), "skipped", len(cmds)-i-1)
			}
			break
		}
	}

	resp := command.NewResponse(req, answers)
	log.Debug("response received", "answers", len(answers))

	d.mgr.ProcessAnswers(d, seq, resp)
}

// executeOne turns every outcome of a single command, including a panic, into an answer.
func executeOne(res Resource, cmd command.Command, log *slog.Logger) (answer command.Answer) {
	if res == nil {
		return command.Failure(cmd, disconnectedDetail)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn("exception caught while executing command", "command", cmd.Type(), "panic", r)
			answer = command.Failure(cmd, fmt.Sprint(r))
		}
	}()

	a, err := res.ExecuteRequest(cmd)
	if err != nil {
		log.Warn("error executing command", "command", cmd.Type(), "error", err)
		return command.Failure(cmd, err.Error())
	}
	if a == nil {
		return command.Failure(cmd, "no answer returned")
	}
	return a
}
