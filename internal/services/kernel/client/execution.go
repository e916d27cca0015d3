package client

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/wire"
)

// RemoteError is an exception raised by the executed code. It is data
// returned to the caller, not a bridge failure.
type RemoteError struct {
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

// Text renders "Name: Value" followed by the traceback lines.
func (e RemoteError) Text() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(": ")
	b.WriteString(e.Value)
	for _, line := range e.Traceback {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

// Output is what an execution produced so far.
type Output struct {
	MsgID          string       `json:"msg_id"`
	Stdout         string       `json:"stdout"`
	Stderr         string       `json:"stderr"`
	Streams        []string     `json:"-"`
	Results        []string     `json:"results,omitempty"`
	Error          *RemoteError `json:"error,omitempty"`
	ExecutionCount int          `json:"execution_count,omitempty"`
	Status         string       `json:"status,omitempty"`
	Done           bool         `json:"done"`
	Interrupted    bool         `json:"interrupted,omitempty"`
}

// ResultRepr joins the text/plain representations of produced values.
func (o Output) ResultRepr() string {
	return strings.Join(o.Results, "\n")
}

// Text renders the output the way a console shows it: stream chunks, then
// result values, then the error.
func (o Output) Text() string {
	parts := make([]string, 0, len(o.Streams)+len(o.Results)+1)
	parts = append(parts, o.Streams...)
	parts = append(parts, o.Results...)
	if o.Error != nil {
		parts = append(parts, o.Error.Text())
	}
	return strings.Join(parts, "\n")
}

// execution accumulates iopub and shell traffic for one execute_request.
// It is done once both the idle status and the execute_reply arrived.
type execution struct {
	mu          sync.Mutex
	msgID       string
	stdout      strings.Builder
	stderr      strings.Builder
	streams     []string
	results     []string
	err         *RemoteError
	count       int
	status      string
	idle        bool
	replied     bool
	interrupted bool
	done        chan struct{}
}

func newExecution(msgID string) *execution {
	return &execution{msgID: msgID, done: make(chan struct{})}
}

// applyIOPub folds one iopub message into the execution.
func (e *execution) applyIOPub(msg wire.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.MsgType() {
	case msgStream:
		var content streamContent
		if err := msg.DecodeContent(&content); err != nil {
			return err
		}
		if content.Name == "stderr" {
			e.stderr.WriteString(content.Text)
		} else {
			e.stdout.WriteString(content.Text)
		}
		if chunk := strings.TrimSpace(content.Text); chunk != "" {
			e.streams = append(e.streams, chunk)
		}
	case msgExecuteResult, msgDisplayData:
		var content dataContent
		if err := msg.DecodeContent(&content); err != nil {
			return err
		}
		if text, ok := content.Data[mimeTextPlain]; ok {
			e.results = append(e.results, fmt.Sprint(text))
		}
		if content.ExecutionCount > 0 {
			e.count = content.ExecutionCount
		}
	case msgError:
		var content errorContent
		if err := msg.DecodeContent(&content); err != nil {
			return err
		}
		e.err = newRemoteError(content.EName, content.EValue, content.Traceback)
	case msgStatus:
		var content statusContent
		if err := msg.DecodeContent(&content); err != nil {
			return err
		}
		if content.ExecutionState == stateIdle {
			e.idle = true
			e.finishLocked()
		}
	}
	return nil
}

// applyReply records the shell execute_reply.
func (e *execution) applyReply(reply executeReply) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = reply.Status
	if reply.ExecutionCount > 0 {
		e.count = reply.ExecutionCount
	}
	if reply.Status == replyStatusError && e.err == nil && reply.EName != "" {
		e.err = newRemoteError(reply.EName, reply.EValue, reply.Traceback)
	}
	e.replied = true
	e.finishLocked()
}

func (e *execution) markInterrupted() {
	e.mu.Lock()
	e.interrupted = true
	e.mu.Unlock()
}

func (e *execution) finishLocked() {
	if !e.idle || !e.replied {
		return
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

func (e *execution) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *execution) snapshot() Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Output{
		MsgID:          e.msgID,
		Stdout:         strings.TrimRight(e.stdout.String(), "\r\n"),
		Stderr:         strings.TrimRight(e.stderr.String(), "\r\n"),
		Streams:        append([]string(nil), e.streams...),
		Results:        append([]string(nil), e.results...),
		ExecutionCount: e.count,
		Status:         e.status,
		Done:           e.idle && e.replied,
		Interrupted:    e.interrupted,
	}
	if e.err != nil {
		copied := *e.err
		out.Error = &copied
	}
	return out
}

func newRemoteError(name, value string, traceback []string) *RemoteError {
	lines := make([]string, 0, len(traceback))
	for _, line := range traceback {
		lines = append(lines, ansi.Strip(line))
	}
	return &RemoteError{Name: name, Value: value, Traceback: lines}
}
