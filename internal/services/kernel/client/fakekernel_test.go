package client

import (
	"context"
	"net"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/go-zeromq/zmq4"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/wire"
)

const fakeKernelKey = "fake-kernel-key"

// fakeKernel speaks enough of the kernel protocol over real loopback
// sockets to exercise Session: assignments, print, bare names, a raising
// statement and a blocking sleep that only an interrupt ends.
type fakeKernel struct {
	t       *testing.T
	desc    descriptor.Descriptor
	signer  wire.Signer
	session string

	shell   zmq4.Socket
	iopub   zmq4.Socket
	control zmq4.Socket
	hb      zmq4.Socket

	iopubMu   sync.Mutex
	mu        sync.Mutex
	vars      map[string]string
	count     int
	executed  []string
	interrupt chan struct{}
	// skipIdle drops the idle status so executions never finish.
	skipIdle bool
}

var (
	assignPattern  = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(.+)$`)
	printPattern   = regexp.MustCompile(`^print\((.*)\)$`)
	globalsPattern = regexp.MustCompile(`if ['"]([A-Za-z_]\w*)['"] in globals\(\)`)
	namePattern    = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

func startFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	k := &fakeKernel{
		t:         t,
		session:   "fake-kernel",
		vars:      map[string]string{},
		interrupt: make(chan struct{}, 1),
	}
	signer, err := wire.NewSigner(descriptor.SchemeHMACSHA256, fakeKernelKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	k.signer = signer

	k.shell = zmq4.NewRouter(ctx)
	k.iopub = zmq4.NewPub(ctx)
	k.control = zmq4.NewRouter(ctx)
	k.hb = zmq4.NewRep(ctx)
	t.Cleanup(func() {
		for _, sock := range []zmq4.Socket{k.shell, k.iopub, k.control, k.hb} {
			_ = sock.Close()
		}
		cancel()
	})

	k.desc = descriptor.Descriptor{
		IP:              "127.0.0.1",
		Transport:       "tcp",
		ShellPort:       listenLoopback(t, k.shell),
		IOPubPort:       listenLoopback(t, k.iopub),
		ControlPort:     listenLoopback(t, k.control),
		HBPort:          listenLoopback(t, k.hb),
		StdinPort:       1,
		Key:             fakeKernelKey,
		SignatureScheme: descriptor.SchemeHMACSHA256,
	}

	go k.serveShell()
	go k.serveControl()
	go k.serveHeartbeat()
	return k
}

func listenLoopback(t *testing.T, sock zmq4.Socket) int {
	t.Helper()
	if err := sock.Listen("tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr, ok := sock.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("expected tcp listener address, got %v", sock.Addr())
	}
	return addr.Port
}

func (k *fakeKernel) setSkipIdle(skip bool) {
	k.mu.Lock()
	k.skipIdle = skip
	k.mu.Unlock()
}

func (k *fakeKernel) executedCode() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.executed...)
}

func (k *fakeKernel) serveShell() {
	for {
		raw, err := k.shell.Recv()
		if err != nil {
			return
		}
		req, err := wire.Decode(raw.Frames, k.signer)
		if err != nil {
			continue
		}
		switch req.MsgType() {
		case msgKernelInfoRequest:
			k.publishStatus(req, "busy")
			k.reply(k.shell, req, msgKernelInfoReply, KernelInfo{
				ProtocolVersion: wire.ProtocolVersion,
				Implementation:  "fake",
				LanguageInfo:    LanguageInfo{Name: "python", Version: "3.12"},
			})
			k.publishStatus(req, stateIdle)
		case msgExecuteRequest:
			var content executeRequest
			if err := req.DecodeContent(&content); err != nil {
				continue
			}
			k.execute(req, content.Code)
		}
	}
}

func (k *fakeKernel) execute(req wire.Message, code string) {
	k.mu.Lock()
	k.count++
	count := k.count
	k.executed = append(k.executed, code)
	k.mu.Unlock()

	k.publishStatus(req, "busy")
	reply := executeReply{Status: replyStatusOK, ExecutionCount: count}
	code = strings.TrimSpace(code)

	switch {
	case strings.HasPrefix(code, "import time"):
		<-k.interrupt
		k.publish(req, msgError, errorContent{EName: "KeyboardInterrupt", EValue: "", Traceback: []string{"\x1b[0;31mKeyboardInterrupt\x1b[0m"}})
		reply = executeReply{Status: replyStatusError, ExecutionCount: count, EName: "KeyboardInterrupt"}
	case code == "1/0":
		k.publish(req, msgError, errorContent{
			EName:     "ZeroDivisionError",
			EValue:    "division by zero",
			Traceback: []string{"\x1b[0;31m---------------------------------------------------------------------------\x1b[0m", "\x1b[0;31mZeroDivisionError\x1b[0m: division by zero"},
		})
		reply = executeReply{Status: replyStatusError, ExecutionCount: count, EName: "ZeroDivisionError", EValue: "division by zero"}
	case printPattern.MatchString(code):
		arg := printPattern.FindStringSubmatch(code)[1]
		if m := globalsPattern.FindStringSubmatch(arg); m != nil {
			k.mu.Lock()
			_, ok := k.vars[m[1]]
			k.mu.Unlock()
			arg = "'false'"
			if ok {
				arg = "'true'"
			}
		}
		k.publish(req, msgStream, streamContent{Name: "stdout", Text: k.eval(arg) + "\n"})
	case assignPattern.MatchString(code):
		m := assignPattern.FindStringSubmatch(code)
		k.mu.Lock()
		k.vars[m[1]] = m[2]
		k.mu.Unlock()
	case namePattern.MatchString(code):
		k.publish(req, msgExecuteResult, dataContent{Data: map[string]any{mimeTextPlain: k.eval(code)}, ExecutionCount: count})
	}

	k.mu.Lock()
	skipIdle := k.skipIdle
	k.mu.Unlock()
	if !skipIdle {
		k.publishStatus(req, stateIdle)
	}
	k.reply(k.shell, req, msgExecuteReply, reply)
}

func (k *fakeKernel) eval(expr string) string {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') {
		return expr[1 : len(expr)-1]
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.vars[expr]; ok {
		return v
	}
	return expr
}

func (k *fakeKernel) serveControl() {
	for {
		raw, err := k.control.Recv()
		if err != nil {
			return
		}
		req, err := wire.Decode(raw.Frames, k.signer)
		if err != nil || req.MsgType() != msgInterruptRequest {
			continue
		}
		select {
		case k.interrupt <- struct{}{}:
		default:
		}
		k.reply(k.control, req, msgInterruptReply, interruptReply{Status: replyStatusOK})
	}
}

func (k *fakeKernel) serveHeartbeat() {
	for {
		msg, err := k.hb.Recv()
		if err != nil {
			return
		}
		if err := k.hb.Send(msg); err != nil {
			return
		}
	}
}

func (k *fakeKernel) reply(sock zmq4.Socket, req wire.Message, msgType string, content any) {
	msg, err := req.Reply(k.session, msgType, content)
	if err != nil {
		k.t.Errorf("build %s: %v", msgType, err)
		return
	}
	frames, err := wire.Encode(msg, k.signer)
	if err != nil {
		k.t.Errorf("encode %s: %v", msgType, err)
		return
	}
	_ = sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (k *fakeKernel) publish(req wire.Message, msgType string, content any) {
	msg, err := req.Reply(k.session, msgType, content)
	if err != nil {
		k.t.Errorf("build %s: %v", msgType, err)
		return
	}
	msg.Identities = [][]byte{[]byte("kernel." + msgType)}
	frames, err := wire.Encode(msg, k.signer)
	if err != nil {
		k.t.Errorf("encode %s: %v", msgType, err)
		return
	}
	k.iopubMu.Lock()
	defer k.iopubMu.Unlock()
	_ = k.iopub.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (k *fakeKernel) publishStatus(req wire.Message, state string) {
	k.publish(req, msgStatus, statusContent{ExecutionState: state})
}
