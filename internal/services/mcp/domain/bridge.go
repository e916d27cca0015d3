package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/ipython-mcp/internal/platform/errors"
	"github.com/louisbranch/ipython-mcp/internal/platform/timeouts"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/client"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/launcher"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/storage"
)

// KernelSession is the part of client.Session the Bridge uses.
type KernelSession interface {
	Descriptor() descriptor.Descriptor
	Info() client.KernelInfo
	Execute(ctx context.Context, code string) (client.Output, error)
	Submit(ctx context.Context, code string) (string, error)
	Check(msgID string) (client.Output, error)
	Interrupt(ctx context.Context, msgID string) error
	Close() error
}

// Dialer opens a session to the kernel described by desc.
type Dialer func(ctx context.Context, desc descriptor.Descriptor) (KernelSession, error)

// Starter launches kernel processes. *launcher.Launcher satisfies it.
type Starter interface {
	Start(ctx context.Context, connectionFile string, ready launcher.Prober) (*launcher.Process, error)
}

// LaunchLister reads the launch registry.
type LaunchLister interface {
	ListLaunches(ctx context.Context, limit int) ([]storage.KernelLaunch, error)
}

// Probe checks that a kernel answers before a session is dialed.
type Probe func(ctx context.Context, desc descriptor.Descriptor) error

// DialClient dials a real kernel session.
func DialClient(ctx context.Context, desc descriptor.Descriptor) (KernelSession, error) {
	session, err := client.Dial(ctx, desc, client.Options{})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// BridgeConfig wires a Bridge.
type BridgeConfig struct {
	Resolver descriptor.Resolver
	// Dial defaults to DialClient.
	Dial Dialer
	// Starter is required by Start only.
	Starter Starter
	// Launches backs list_kernel_launches; optional.
	Launches LaunchLister
	// Probe defaults to a heartbeat ping.
	Probe          Probe
	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	Notify         ResourceUpdateNotifier
}

// Bridge holds the process's single active kernel session.
type Bridge struct {
	resolver       descriptor.Resolver
	dial           Dialer
	starter        Starter
	launches       LaunchLister
	probe          Probe
	connectTimeout time.Duration
	executeTimeout time.Duration
	notify         ResourceUpdateNotifier

	// opMu serializes connect, start and disconnect.
	opMu sync.Mutex

	mu          sync.RWMutex
	session     KernelSession
	source      descriptor.Source
	connectedAt time.Time
	launched    *launcher.Process
}

// NewBridge builds a Bridge with no active session.
func NewBridge(cfg BridgeConfig) *Bridge {
	b := &Bridge{
		resolver:       cfg.Resolver,
		dial:           cfg.Dial,
		starter:        cfg.Starter,
		launches:       cfg.Launches,
		probe:          cfg.Probe,
		connectTimeout: cfg.ConnectTimeout,
		executeTimeout: cfg.ExecuteTimeout,
		notify:         cfg.Notify,
	}
	if b.dial == nil {
		b.dial = DialClient
	}
	if b.probe == nil {
		b.probe = client.Ping
	}
	if b.connectTimeout <= 0 {
		b.connectTimeout = timeouts.KernelConnect
	}
	if b.executeTimeout <= 0 {
		b.executeTimeout = timeouts.KernelExecute
	}
	return b
}

// SetNotifier replaces the resource update notifier.
func (b *Bridge) SetNotifier(notify ResourceUpdateNotifier) {
	b.opMu.Lock()
	b.notify = notify
	b.opMu.Unlock()
}

// Connect resolves and loads a descriptor, closes any prior session, then
// dials and handshakes the new one. An invalid descriptor leaves the prior
// session untouched.
func (b *Bridge) Connect(ctx context.Context, connectionFile string) (KernelStatus, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	src, desc, err := b.load(connectionFile)
	if err != nil {
		return b.Status(), err
	}
	if err := b.connectLocked(ctx, src, desc, nil); err != nil {
		return b.Status(), err
	}
	NotifyResourceUpdates(ctx, b.notify, StatusResourceURI)
	return b.Status(), nil
}

// Started describes a kernel started by Start.
type Started struct {
	Status   KernelStatus
	Process  *launcher.Process
	Resolved descriptor.Source
}

// Start launches a kernel for the resolved descriptor, waits for it to
// answer heartbeats and connects to it. It refuses to launch when a kernel
// already answers on the descriptor's ports. On any failure the launched process
// group is stopped.
func (b *Bridge) Start(ctx context.Context, connectionFile string) (Started, error) {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.starter == nil {
		return Started{Status: b.Status()}, apperrors.New(apperrors.CodeStartup, "kernel launching is not configured")
	}
	src, desc, err := b.load(connectionFile)
	if err != nil {
		return Started{Status: b.Status()}, err
	}
	path, err := b.resolver.Materialize(src)
	if err != nil {
		return Started{Status: b.Status()}, apperrors.WrapWithMetadata(apperrors.CodeConfig, "materialize connection descriptor", sourceMetadata(src), err)
	}
	src.Path = path

	if b.answering(ctx, desc) {
		meta := sourceMetadata(src)
		meta["endpoint"] = desc.Address()
		return Started{Status: b.Status()}, apperrors.WithMetadata(apperrors.CodeStartup, fmt.Sprintf("a kernel already answers at %s; connect to it or use another connection file", desc.Address()), meta)
	}

	proc, err := b.starter.Start(ctx, path, func(ctx context.Context) error {
		return b.probe(ctx, desc)
	})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			err = apperrors.WrapWithMetadata(apperrors.CodeStartup, "start kernel", sourceMetadata(src), err)
		}
		return Started{Status: b.Status()}, err
	}
	log.Printf("kernel started: pid=%d connection_file=%s", proc.PID, path)

	if err := b.connectLocked(ctx, src, desc, proc); err != nil {
		proc.Stop(timeouts.Shutdown)
		return Started{Status: b.Status()}, apperrors.WrapWithMetadata(apperrors.CodeStartup, "connect to started kernel", sourceMetadata(src), err)
	}
	NotifyResourceUpdates(ctx, b.notify, StatusResourceURI, LaunchesResourceURI)
	return Started{Status: b.Status(), Process: proc, Resolved: src}, nil
}

// answering reports whether a kernel already echoes heartbeats for desc.
func (b *Bridge) answering(ctx context.Context, desc descriptor.Descriptor) bool {
	ctx, cancel := context.WithTimeout(ctx, timeouts.KernelOccupiedProbe)
	defer cancel()
	return b.probe(ctx, desc) == nil
}

// Disconnect closes the active session. It reports whether one existed and
// is a no-op otherwise.
func (b *Bridge) Disconnect(ctx context.Context) bool {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if !b.closeSessionLocked() {
		return false
	}
	NotifyResourceUpdates(ctx, b.notify, StatusResourceURI)
	return true
}

// Close releases the active session. Launched kernels keep running.
func (b *Bridge) Close() {
	b.opMu.Lock()
	defer b.opMu.Unlock()
	b.closeSessionLocked()
}

// Status is a pure read of the session state.
func (b *Bridge) Status() KernelStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return KernelStatus{Connected: false}
	}
	status := KernelStatus{
		Connected:      true,
		Endpoint:       endpointFromDescriptor(b.session.Descriptor()),
		ConnectionFile: b.source.Path,
		Source:         string(b.source.Origin),
		ConnectedAt:    formatTime(b.connectedAt),
		Kernel:         kernelInfoPayload(b.session.Info()),
	}
	if b.launched != nil {
		status.LaunchedPID = b.launched.PID
	}
	return status
}

// Execute runs code on the active session and waits for it to finish.
// Exceptions raised by the code are returned in the output, not as errors.
func (b *Bridge) Execute(ctx context.Context, code string) (client.Output, error) {
	session, err := b.current()
	if err != nil {
		return client.Output{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.executeTimeout)
	defer cancel()

	out, err := session.Execute(ctx, code)
	if err != nil {
		return out, b.sessionError(err, out.MsgID)
	}
	return out, nil
}

// Submit sends code for execution and returns its msg_id at once.
func (b *Bridge) Submit(ctx context.Context, code string) (string, error) {
	session, err := b.current()
	if err != nil {
		return "", err
	}
	msgID, err := session.Submit(ctx, code)
	if err != nil {
		return "", b.sessionError(err, "")
	}
	return msgID, nil
}

// Check reports the output collected so far for msgID.
func (b *Bridge) Check(msgID string) (client.Output, error) {
	msgID = strings.TrimSpace(msgID)
	if msgID == "" {
		return client.Output{}, apperrors.New(apperrors.CodeInvalidArgument, "msg_id is required")
	}
	session, err := b.current()
	if err != nil {
		return client.Output{}, err
	}
	out, err := session.Check(msgID)
	if err != nil {
		return client.Output{}, b.sessionError(err, msgID)
	}
	return out, nil
}

// Interrupt asks the kernel to interrupt the execution msgID.
func (b *Bridge) Interrupt(ctx context.Context, msgID string) error {
	msgID = strings.TrimSpace(msgID)
	if msgID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "msg_id is required")
	}
	session, err := b.current()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.KernelRequest)
	defer cancel()
	if err := session.Interrupt(ctx, msgID); err != nil {
		return b.sessionError(err, msgID)
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableExists reports whether name is bound in the kernel's globals.
func (b *Bridge) VariableExists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if !identifierPattern.MatchString(name) {
		return false, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "var_name must be a Python identifier", map[string]string{"var_name": name})
	}
	out, err := b.Execute(ctx, fmt.Sprintf("print('true' if %q in globals() else 'false')", name))
	if err != nil {
		return false, err
	}
	if out.Error != nil {
		return false, apperrors.Wrap(apperrors.CodeRemoteExecution, "check variable", errors.New(out.Error.Text()))
	}
	return strings.TrimSpace(out.Stdout) == "true", nil
}

// Launches lists kernels started by the bridge, most recent first.
func (b *Bridge) Launches(ctx context.Context, limit int) ([]storage.KernelLaunch, error) {
	if b.launches == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLaunchLimit
	}
	launches, err := b.launches.ListLaunches(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list kernel launches: %w", err)
	}
	return launches, nil
}

const defaultLaunchLimit = 20

func (b *Bridge) load(connectionFile string) (descriptor.Source, descriptor.Descriptor, error) {
	src := b.resolver.Resolve(connectionFile)
	desc, err := b.resolver.Load(src)
	if err != nil {
		return src, descriptor.Descriptor{}, apperrors.WrapWithMetadata(apperrors.CodeConfig, "load connection descriptor", sourceMetadata(src), err)
	}
	return src, desc, nil
}

// connectLocked closes the prior session before dialing, so at most one
// session holds sockets at any time. Callers hold opMu.
func (b *Bridge) connectLocked(ctx context.Context, src descriptor.Source, desc descriptor.Descriptor, proc *launcher.Process) error {
	b.closeSessionLocked()

	dialCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	session, err := b.dial(dialCtx, desc)
	if err != nil {
		meta := sourceMetadata(src)
		meta["endpoint"] = desc.Address()
		return apperrors.WrapWithMetadata(apperrors.CodeConnection, "connect to kernel", meta, err)
	}

	b.mu.Lock()
	b.session = session
	b.source = src
	b.connectedAt = time.Now().UTC()
	b.launched = proc
	b.mu.Unlock()
	log.Printf("kernel connected: endpoint=%s source=%s", desc.Address(), src.Origin)
	return nil
}

func (b *Bridge) closeSessionLocked() bool {
	b.mu.Lock()
	session := b.session
	b.session = nil
	b.source = descriptor.Source{}
	b.connectedAt = time.Time{}
	b.launched = nil
	b.mu.Unlock()

	if session == nil {
		return false
	}
	if err := session.Close(); err != nil {
		log.Printf("kernel session close failed: endpoint=%s err=%v", session.Descriptor().Address(), err)
	}
	return true
}

func (b *Bridge) current() (KernelSession, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil, apperrors.New(apperrors.CodeNotConnected, "no active kernel session; call connect_to_kernel or start_kernel first")
	}
	return b.session, nil
}

func (b *Bridge) sessionError(err error, msgID string) error {
	meta := map[string]string{}
	if msgID != "" {
		meta["msg_id"] = msgID
	}
	switch {
	case errors.Is(err, client.ErrExecutionTimeout):
		meta["timeout"] = b.executeTimeout.String()
		return apperrors.WrapWithMetadata(apperrors.CodeExecutionTimeout, "execution timed out", meta, err)
	case errors.Is(err, client.ErrUnknownExecution):
		return apperrors.WrapWithMetadata(apperrors.CodeUnknownExecution, "execution not found", meta, err)
	case errors.Is(err, client.ErrClosed):
		return apperrors.WrapWithMetadata(apperrors.CodeNotConnected, "kernel session closed", meta, err)
	default:
		return apperrors.WrapWithMetadata(apperrors.CodeConnection, "kernel request failed", meta, err)
	}
}

func sourceMetadata(src descriptor.Source) map[string]string {
	return map[string]string{"connection_file": src.Path, "source": string(src.Origin)}
}
