package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/ipython-mcp/internal/platform/otel"
	"github.com/louisbranch/ipython-mcp/internal/platform/timeouts"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/wire"
)

var (
	// ErrClosed reports use of a session after Close.
	ErrClosed = errors.New("kernel session is closed")
	// ErrExecutionTimeout reports an execution that did not reach idle in time.
	ErrExecutionTimeout = errors.New("execution did not finish in time")
	// ErrUnknownExecution reports a msg_id the session is not tracking.
	ErrUnknownExecution = errors.New("unknown execution")
)

const (
	defaultUsername   = "ipython-mcp"
	defaultMaxTracked = 64
)

var tracer = otel.Tracer("services/kernel/client")

// Options tune a Session.
type Options struct {
	// Username is sent in message headers. Defaults to "ipython-mcp".
	Username string
	// RequestTimeout bounds control requests issued without a deadline.
	RequestTimeout time.Duration
	// MaxTrackedExecutions caps executions kept for Check. Finished ones
	// are evicted first, oldest first. Defaults to 64.
	MaxTrackedExecutions int
}

// Session is a live connection to one kernel.
type Session struct {
	desc     descriptor.Descriptor
	signer   wire.Signer
	id       string
	username string
	timeout  time.Duration
	info     KernelInfo

	ctx    context.Context
	cancel context.CancelFunc

	shell   zmq4.Socket
	iopub   zmq4.Socket
	control zmq4.Socket
	shellMu sync.Mutex
	ctrlMu  sync.Mutex

	mu         sync.Mutex
	waiters    map[string]chan wire.Message
	executions map[string]*execution
	order      []string
	maxTracked int

	// execSlot admits one blocking Execute at a time; later callers queue.
	execSlot chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Dial opens the shell, iopub and control channels of the kernel described
// by desc and completes a kernel_info handshake. ctx bounds the whole
// connect; every socket is released if any step fails.
func Dial(ctx context.Context, desc descriptor.Descriptor, opts Options) (*Session, error) {
	ctx, span := tracer.Start(ctx, "kernel.connect", trace.WithAttributes(
		attribute.String("kernel.address", desc.Address()),
		attribute.String("kernel.transport", desc.Transport),
	))
	defer span.End()

	signer, err := wire.NewSigner(desc.SignatureScheme, desc.Key)
	if err != nil {
		return nil, err
	}
	if opts.Username == "" {
		opts.Username = defaultUsername
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = timeouts.KernelRequest
	}
	if opts.MaxTrackedExecutions <= 0 {
		opts.MaxTrackedExecutions = defaultMaxTracked
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		desc:       desc,
		signer:     signer,
		id:         uuid.NewString(),
		username:   opts.Username,
		timeout:    opts.RequestTimeout,
		ctx:        sctx,
		cancel:     cancel,
		waiters:    make(map[string]chan wire.Message),
		executions: make(map[string]*execution),
		maxTracked: opts.MaxTrackedExecutions,
		execSlot:   make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	fail := func(err error) (*Session, error) {
		_ = s.Close()
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	identity := zmq4.WithID(zmq4.SocketIdentity(s.id))
	s.shell = zmq4.NewDealer(sctx, identity, zmq4.WithDialerRetry(dialRetry))
	if err := dialSocket(ctx, s.shell, desc.Endpoint(descriptor.ChannelShell)); err != nil {
		return fail(fmt.Errorf("dial shell channel: %w", err))
	}
	s.iopub = zmq4.NewSub(sctx, zmq4.WithDialerRetry(dialRetry))
	if err := dialSocket(ctx, s.iopub, desc.Endpoint(descriptor.ChannelIOPub)); err != nil {
		return fail(fmt.Errorf("dial iopub channel: %w", err))
	}
	if err := s.iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fail(fmt.Errorf("subscribe iopub channel: %w", err))
	}
	s.control = zmq4.NewDealer(sctx, identity, zmq4.WithDialerRetry(dialRetry))
	if err := dialSocket(ctx, s.control, desc.Endpoint(descriptor.ChannelControl)); err != nil {
		return fail(fmt.Errorf("dial control channel: %w", err))
	}

	s.wg.Add(3)
	go s.readLoop(s.shell, descriptor.ChannelShell, s.handleShell)
	go s.readLoop(s.iopub, descriptor.ChannelIOPub, s.handleIOPub)
	go s.readLoop(s.control, descriptor.ChannelControl, s.deliver)

	reply, err := s.request(ctx, s.shell, &s.shellMu, msgKernelInfoRequest, nil)
	if err != nil {
		return fail(fmt.Errorf("kernel_info handshake: %w", err))
	}
	if err := reply.DecodeContent(&s.info); err != nil {
		return fail(fmt.Errorf("kernel_info handshake: %w", err))
	}
	span.SetAttributes(attribute.String("kernel.implementation", s.info.Implementation))
	return s, nil
}

const dialRetry = 100 * time.Millisecond

// dialSocket dials ep, giving up when ctx ends. zmq4 retries internally
// and does not observe ctx itself.
func dialSocket(ctx context.Context, sock zmq4.Socket, ep string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- sock.Dial(ep)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", ep, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", ep, ctx.Err())
	}
}

// Descriptor returns the connection descriptor this session was dialed with.
func (s *Session) Descriptor() descriptor.Descriptor {
	return s.desc
}

// Info returns the kernel_info_reply from the handshake.
func (s *Session) Info() KernelInfo {
	return s.info
}

// ID returns the client session id sent in message headers.
func (s *Session) ID() string {
	return s.id
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Execute runs code and waits until the kernel reports idle for it and the
// execute_reply arrived, or ctx ends. On timeout the partial output is
// returned with ErrExecutionTimeout and the execution stays tracked, so
// Check can collect the rest. Calls are serialized in arrival order.
func (s *Session) Execute(ctx context.Context, code string) (Output, error) {
	ctx, span := tracer.Start(ctx, "kernel.execute")
	defer span.End()

	select {
	case s.execSlot <- struct{}{}:
	case <-ctx.Done():
		span.SetStatus(otelcodes.Error, "queued past deadline")
		return Output{}, fmt.Errorf("%w: waiting for previous execution: %v", ErrExecutionTimeout, ctx.Err())
	case <-s.closed:
		return Output{}, ErrClosed
	}
	defer func() { <-s.execSlot }()

	msgID, err := s.Submit(ctx, code)
	if err != nil {
		span.RecordError(err)
		return Output{}, err
	}
	span.SetAttributes(attribute.String("kernel.msg_id", msgID))
	exec := s.lookup(msgID)

	select {
	case <-exec.done:
		s.forget(msgID)
		return exec.snapshot(), nil
	case <-ctx.Done():
		span.SetStatus(otelcodes.Error, "execution timeout")
		return exec.snapshot(), fmt.Errorf("%w: %v", ErrExecutionTimeout, ctx.Err())
	case <-s.closed:
		s.forget(msgID)
		return exec.snapshot(), ErrClosed
	}
}

// Submit sends an execute_request and returns its msg_id without waiting.
func (s *Session) Submit(ctx context.Context, code string) (string, error) {
	if s.Closed() {
		return "", ErrClosed
	}
	msg, err := wire.NewMessage(s.id, s.username, msgExecuteRequest, executeRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]string{},
		StopOnError:     true,
	})
	if err != nil {
		return "", err
	}
	msgID := msg.Header.MsgID

	// Track before sending so early iopub traffic is not lost.
	s.mu.Lock()
	s.executions[msgID] = newExecution(msgID)
	s.order = append(s.order, msgID)
	s.evictLocked()
	s.mu.Unlock()

	if err := s.send(ctx, s.shell, &s.shellMu, msg); err != nil {
		s.forget(msgID)
		return "", fmt.Errorf("send execute_request: %w", err)
	}
	return msgID, nil
}

// Check reports the progress of a submitted execution. A finished
// execution is forgotten once reported, or when evicted to make room.
func (s *Session) Check(msgID string) (Output, error) {
	exec := s.lookup(msgID)
	if exec == nil {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownExecution, msgID)
	}
	out := exec.snapshot()
	if out.Done {
		s.forget(msgID)
	}
	return out, nil
}

// Pending returns the msg_ids of executions still tracked.
func (s *Session) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.executions))
	for id := range s.executions {
		ids = append(ids, id)
	}
	return ids
}

// Interrupt sends interrupt_request on the control channel and waits for
// the reply. An empty msgID interrupts whatever the kernel is running.
func (s *Session) Interrupt(ctx context.Context, msgID string) error {
	ctx, span := tracer.Start(ctx, "kernel.interrupt", trace.WithAttributes(attribute.String("kernel.msg_id", msgID)))
	defer span.End()

	var exec *execution
	if msgID != "" {
		exec = s.lookup(msgID)
		if exec == nil {
			return fmt.Errorf("%w: %s", ErrUnknownExecution, msgID)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	reply, err := s.request(ctx, s.control, &s.ctrlMu, msgInterruptRequest, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("interrupt_request: %w", err)
	}
	var content interruptReply
	if err := reply.DecodeContent(&content); err == nil && content.Status != "" && content.Status != replyStatusOK {
		return fmt.Errorf("interrupt_request: kernel replied %q", content.Status)
	}
	if exec != nil {
		exec.markInterrupted()
	}
	return nil
}

// Close releases every socket and fails outstanding waiters. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, sock := range []zmq4.Socket{s.shell, s.iopub, s.control} {
			if sock == nil {
				continue
			}
			if cerr := sock.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
				err = errors.Join(err, cerr)
			}
		}
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeouts.Shutdown):
			log.Printf("kernel session %s: readers did not stop within %s", s.id, timeouts.Shutdown)
		}
	})
	return err
}

func (s *Session) readLoop(sock zmq4.Socket, channel descriptor.Channel, handle func(wire.Message)) {
	defer s.wg.Done()
	for {
		raw, err := sock.Recv()
		if err != nil {
			if !s.Closed() {
				log.Printf("kernel %s channel stopped: err=%v", channel, err)
			}
			return
		}
		msg, err := wire.Decode(raw.Frames, s.signer)
		if err != nil {
			log.Printf("kernel %s channel dropped message: err=%v", channel, err)
			continue
		}
		handle(msg)
	}
}

func (s *Session) handleShell(msg wire.Message) {
	if msg.MsgType() == msgExecuteReply {
		if exec := s.lookup(msg.ParentID()); exec != nil {
			var reply executeReply
			if err := msg.DecodeContent(&reply); err != nil {
				log.Printf("kernel shell channel: %v", err)
			} else {
				exec.applyReply(reply)
			}
		}
	}
	s.deliver(msg)
}

func (s *Session) handleIOPub(msg wire.Message) {
	exec := s.lookup(msg.ParentID())
	if exec == nil {
		return
	}
	if err := exec.applyIOPub(msg); err != nil {
		log.Printf("kernel iopub channel: %v", err)
	}
}

// deliver hands msg to the request waiting on its parent msg_id, if any.
func (s *Session) deliver(msg wire.Message) {
	s.mu.Lock()
	ch, ok := s.waiters[msg.ParentID()]
	if ok {
		delete(s.waiters, msg.ParentID())
	}
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// request sends msgType on sock and waits for the reply with the same parent.
func (s *Session) request(ctx context.Context, sock zmq4.Socket, mu *sync.Mutex, msgType string, content any) (wire.Message, error) {
	msg, err := wire.NewMessage(s.id, s.username, msgType, content)
	if err != nil {
		return wire.Message{}, err
	}
	msgID := msg.Header.MsgID
	ch := make(chan wire.Message, 1)

	s.mu.Lock()
	s.waiters[msgID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, msgID)
		s.mu.Unlock()
	}()

	if err := s.send(ctx, sock, mu, msg); err != nil {
		return wire.Message{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	case <-s.closed:
		return wire.Message{}, ErrClosed
	}
}

func (s *Session) send(ctx context.Context, sock zmq4.Socket, mu *sync.Mutex, msg wire.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frames, err := wire.Encode(msg, s.signer)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if s.Closed() {
		return ErrClosed
	}
	return sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s *Session) lookup(msgID string) *execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions[msgID]
}

// evictLocked trims executions to maxTracked, dropping the oldest finished
// ones before the oldest unfinished ones. Callers hold mu.
func (s *Session) evictLocked() {
	live := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.executions[id]; ok {
			live = append(live, id)
		}
	}
	s.order = live

	excess := len(s.executions) - s.maxTracked
	for _, finishedOnly := range []bool{true, false} {
		if excess <= 0 {
			return
		}
		kept := s.order[:0]
		for _, id := range s.order {
			if excess > 0 && (!finishedOnly || s.executions[id].finished()) {
				delete(s.executions, id)
				excess--
				continue
			}
			kept = append(kept, id)
		}
		s.order = kept
	}
}

func (s *Session) forget(msgID string) {
	s.mu.Lock()
	delete(s.executions, msgID)
	s.mu.Unlock()
}
