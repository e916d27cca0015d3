// Package errors provides the bridge's structured error kinds.
//
// Every failure that crosses a tool boundary carries one of these codes so
// callers can branch on the kind instead of parsing messages.
package errors

// Code is a machine-readable error kind.
type Code string

const (
	// CodeUnknown represents an unclassified failure.
	CodeUnknown Code = "Unknown"

	// CodeConfig reports a missing, unreadable or invalid connection descriptor.
	CodeConfig Code = "ConfigError"
	// CodeConnection reports an unreachable kernel endpoint or failed handshake.
	CodeConnection Code = "ConnectionError"
	// CodeStartup reports a kernel process that failed to launch or become ready.
	CodeStartup Code = "StartupError"
	// CodeNotConnected reports an operation that needs an active session.
	CodeNotConnected Code = "NotConnectedError"
	// CodeExecutionTimeout reports an execute request with no reply in time.
	CodeExecutionTimeout Code = "ExecutionTimeoutError"
	// CodeRemoteExecution tags exceptions raised by the code under execution.
	// It classifies data returned to the caller, not an adapter failure.
	CodeRemoteExecution Code = "RemoteExecutionError"
	// CodeInvalidArgument reports malformed tool input.
	CodeInvalidArgument Code = "InvalidArgumentError"
	// CodeUnknownExecution reports a msg_id with no tracked execution.
	CodeUnknownExecution Code = "UnknownExecutionError"
)

// String returns the code as it appears in tool results.
func (c Code) String() string {
	if c == "" {
		return string(CodeUnknown)
	}
	return string(c)
}
