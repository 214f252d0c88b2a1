// ABOUTME: Tests for the ping and command tasks
// ABOUTME: Covers stop-on-error truncation, error conversion, snapshots, and ping outcomes

package attache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
)

// failOn returns an execute func that fails the command whose echo message matches.
func failOn(msg string) func(command.Command) (command.Answer, error) {
	return func(c command.Command) (command.Answer, error) {
		if e, ok := c.(*command.EchoCommand); ok && e.Message == msg {
			return command.Failure(c, "failed "+msg), nil
		}
		return command.Success(c, "ok"), nil
	}
}

func TestCommandTask_StopOnError(t *testing.T) {
	h := newHarness()
	h.resource.execute = failOn("2")

	req := &command.Request{Sequence: 5, StopOnError: true, Commands: []command.Command{echo("1"), echo("2"), echo("3")}}
	h.direct.execute(req)

	resp := h.mgr.lastResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Answers, 2)
	assert.True(t, resp.Answers[0].Succeeded())
	assert.False(t, resp.Answers[1].Succeeded())
	assert.Equal(t, 2, h.resource.executedCount(), "command 3 must never execute")
}

func TestCommandTask_ContinuesWithoutStopOnError(t *testing.T) {
	h := newHarness()
	h.resource.execute = failOn("2")

	req := &command.Request{Sequence: 6, Commands: []command.Command{echo("1"), echo("2"), echo("3")}}
	h.direct.execute(req)

	resp := h.mgr.lastResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Answers, 3)
	assert.True(t, resp.Answers[0].Succeeded())
	assert.False(t, resp.Answers[1].Succeeded())
	assert.True(t, resp.Answers[2].Succeeded())
	assert.Equal(t, "failed 2", resp.Answers[1].Details())
}

func TestCommandTask_AnswersMatchCommandCount(t *testing.T) {
	for _, n := range []int{0, 1, 4, 9} {
		h := newHarness()
		cmds := make([]command.Command, n)
		for i := range cmds {
			cmds[i] = echo("x")
		}
		h.direct.execute(&command.Request{Commands: cmds})
		assert.Len(t, h.mgr.lastResponse().Answers, n)
	}
}

func TestCommandTask_ErrorBecomesFailingAnswer(t *testing.T) {
	h := newHarness()
	boom := errors.New("disk quota exceeded")
	h.resource.execute = func(command.Command) (command.Answer, error) { return nil, boom }

	h.direct.execute(command.NewRequest(7, 8, echo("x"), false))

	resp := h.mgr.lastResponse()
	require.Len(t, resp.Answers, 1)
	assert.False(t, resp.Answers[0].Succeeded())
	assert.Equal(t, boom.Error(), resp.Answers[0].Details())
}

func TestCommandTask_PanicBecomesFailingAnswer(t *testing.T) {
	h := newHarness()
	h.resource.execute = func(c command.Command) (command.Answer, error) {
		if c.(*command.EchoCommand).Message == "bad" {
			panic("resource exploded")
		}
		return command.Success(c, "ok"), nil
	}

	h.direct.execute(&command.Request{Commands: []command.Command{echo("bad"), echo("good")}})

	resp := h.mgr.lastResponse()
	require.Len(t, resp.Answers, 2)
	assert.False(t, resp.Answers[0].Succeeded())
	assert.Equal(t, "resource exploded", resp.Answers[0].Details())
	assert.True(t, resp.Answers[1].Succeeded())
}

func TestCommandTask_NilAnswerBecomesFailure(t *testing.T) {
	h := newHarness()
	h.resource.execute = func(command.Command) (command.Answer, error) { return nil, nil }

	h.direct.execute(command.NewRequest(7, 1, echo("x"), false))
	assert.False(t, h.mgr.lastResponse().Answers[0].Succeeded())
}

func TestCommandTask_DisconnectedBeforeStart(t *testing.T) {
	h := newHarness()
	h.direct.Disconnect(host.StatusDisconnected)

	h.direct.execute(&command.Request{Sequence: 4, Commands: []command.Command{echo("1"), echo("2")}})

	resp := h.mgr.lastResponse()
	require.Len(t, resp.Answers, 2)
	for _, a := range resp.Answers {
		assert.False(t, a.Succeeded())
		assert.Equal(t, "agent is disconnected", a.Details())
	}
	assert.Zero(t, h.resource.executedCount())
}

func TestCommandTask_DisconnectDuringExecutionUsesSnapshot(t *testing.T) {
	h := newHarness()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.resource.execute = func(c command.Command) (command.Answer, error) {
		once.Do(func() { close(entered) })
		<-release
		return command.Success(c, "done"), nil
	}

	require.NoError(t, h.direct.Send(&command.Request{Sequence: 21, Commands: []command.Command{echo("1"), echo("2")}}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pool.runSubmitted()
	}()

	<-entered
	h.direct.Disconnect(host.StatusDisconnected)
	require.True(t, h.direct.IsClosed())
	close(release)

	select {
	case resp := <-h.mgr.responseCh:
		require.Len(t, resp.Answers, 2)
		assert.True(t, resp.Answers[0].Succeeded())
		assert.True(t, resp.Answers[1].Succeeded(), "in-flight task should keep using its snapshot")
		assert.Equal(t, int64(21), resp.Sequence)
	case <-time.After(time.Second):
		t.Fatal("in-flight task never reported its answers")
	}
	<-done
}

func TestPingTask(t *testing.T) {
	t.Run("forwards status to the manager", func(t *testing.T) {
		h := newHarness()
		task := newPingTask(h.direct)

		task.run()
		task.run()

		calls := h.mgr.handledCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, int64(0), calls[0].seq)
		assert.Equal(t, int64(1), calls[1].seq)
		require.Len(t, calls[0].cmds, 1)
		ping, ok := calls[0].cmds[0].(*command.PingCommand)
		require.True(t, ok)
		assert.Equal(t, int64(7), ping.HostID)
		assert.Equal(t, int64(2), h.direct.LocalSequence())
		assert.Zero(t, h.mgr.investigationCount())
	})

	t.Run("absent status triggers one investigation per run", func(t *testing.T) {
		h := newHarness()
		h.resource.status = func(int64) *command.PingCommand { return nil }
		task := newPingTask(h.direct)

		task.run()
		assert.Equal(t, 1, h.mgr.investigationCount())
		task.run()
		assert.Equal(t, 2, h.mgr.investigationCount())

		assert.False(t, h.direct.IsClosed(), "ping task must not clear the resource itself")
		assert.Empty(t, h.mgr.handledCalls())
		assert.Zero(t, h.direct.LocalSequence())
	})

	t.Run("disconnected attache is a no-op", func(t *testing.T) {
		h := newHarness()
		h.direct.Disconnect(host.StatusDisconnected)

		newPingTask(h.direct).run()

		assert.Zero(t, h.mgr.investigationCount())
		assert.Empty(t, h.mgr.handledCalls())
	})

	t.Run("panics are swallowed", func(t *testing.T) {
		h := newHarness()
		h.resource.status = func(int64) *command.PingCommand { panic("status endpoint gone") }
		task := newPingTask(h.direct)

		assert.NotPanics(t, task.run)
		// The mutex must have been released.
		assert.NotPanics(t, task.run)
	})

	t.Run("runs are serialized", func(t *testing.T) {
		h := newHarness()
		gate := make(chan struct{})
		var mu sync.Mutex
		inFlight, peak := 0, 0
		h.resource.status = func(id int64) *command.PingCommand {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			<-gate
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &command.PingCommand{HostID: id}
		}
		task := newPingTask(h.direct)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				task.run()
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(gate)
		wg.Wait()

		assert.Equal(t, 1, peak)
		assert.Len(t, h.mgr.handledCalls(), 3)
	})

	t.Run("scheduled ping runs through the registered task", func(t *testing.T) {
		h := newHarness()
		require.NoError(t, h.direct.Send(&command.Response{Answers: []command.Answer{command.NewStartupAnswer(7, 60)}}))

		schedules := h.pool.scheduled()
		require.Len(t, schedules, 1)
		schedules[0].task()
		assert.Len(t, h.mgr.handledCalls(), 1)
	})
}
