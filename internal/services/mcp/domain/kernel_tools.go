package domain

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectInput represents the MCP tool input for connecting to a kernel.
type ConnectInput struct {
	ConnectionFile string `json:"connection_file,omitempty" jsonschema:"path to a kernel connection file; defaults to $IPYTHON_MCP_CONNECTION, then the packaged default"`
}

// ConnectResult represents the MCP tool output for connecting to a kernel.
type ConnectResult struct {
	Status  KernelStatus `json:"status" jsonschema:"session state after the call"`
	Message string       `json:"message,omitempty"`
	Failure *ToolFailure `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// ConnectTool defines the MCP tool schema for connecting to a kernel.
func ConnectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "connect_to_kernel",
		Description: "Connects to a running IPython kernel using a connection file, replacing any current session",
	}
}

// ConnectHandler executes a connect request.
func ConnectHandler(bridge *Bridge) mcp.ToolHandlerFor[ConnectInput, ConnectResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ConnectInput) (*mcp.CallToolResult, ConnectResult, error) {
		meta := NewToolCallMetadata()
		status, err := bridge.Connect(ctx, input.ConnectionFile)
		if err != nil {
			return FailedCallToolResult(meta), ConnectResult{Status: status, Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), ConnectResult{
			Status:  status,
			Message: "connected to kernel at " + status.Endpoint.IP,
		}, nil
	}
}

// StartInput represents the MCP tool input for starting a kernel.
type StartInput struct {
	ConnectionFile string `json:"connection_file,omitempty" jsonschema:"connection file the new kernel binds to; defaults to $IPYTHON_MCP_CONNECTION, then the packaged default"`
}

// StartKernelResult represents the MCP tool output for starting a kernel.
type StartKernelResult struct {
	Status         KernelStatus `json:"status" jsonschema:"session state after the call"`
	PID            int          `json:"pid,omitempty" jsonschema:"process id of the started kernel"`
	LaunchID       string       `json:"launch_id,omitempty" jsonschema:"launch registry id"`
	ConnectionFile string       `json:"connection_file,omitempty" jsonschema:"connection file passed to the kernel"`
	Failure        *ToolFailure `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// StartTool defines the MCP tool schema for starting a kernel.
func StartTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "start_kernel",
		Description: "Starts a new IPython kernel bound to a connection file, waits for it to answer and connects to it. Fails if a kernel already answers on that file's ports",
	}
}

// StartHandler executes a start request.
func StartHandler(bridge *Bridge) mcp.ToolHandlerFor[StartInput, StartKernelResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StartInput) (*mcp.CallToolResult, StartKernelResult, error) {
		meta := NewToolCallMetadata()
		started, err := bridge.Start(ctx, input.ConnectionFile)
		if err != nil {
			return FailedCallToolResult(meta), StartKernelResult{Status: started.Status, Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), StartKernelResult{
			Status:         started.Status,
			PID:            started.Process.PID,
			LaunchID:       started.Process.ID,
			ConnectionFile: started.Process.ConnectionFile,
		}, nil
	}
}

// ExecuteInput represents the MCP tool input for executing code.
type ExecuteInput struct {
	Code string `json:"code" jsonschema:"Python code to execute in the kernel"`
}

// ExecutionErrorPayload is an exception raised by executed code.
type ExecutionErrorPayload struct {
	Kind      string   `json:"kind" jsonschema:"always RemoteExecutionError"`
	Name      string   `json:"ename" jsonschema:"exception class name"`
	Value     string   `json:"evalue" jsonschema:"exception message"`
	Traceback []string `json:"traceback,omitempty" jsonschema:"traceback lines without terminal colors"`
}

// ExecuteResult represents the MCP tool output for executing code.
type ExecuteResult struct {
	MsgID          string                 `json:"msg_id,omitempty" jsonschema:"execute_request message id"`
	Stdout         string                 `json:"stdout" jsonschema:"captured standard output"`
	Stderr         string                 `json:"stderr,omitempty" jsonschema:"captured standard error"`
	ResultRepr     string                 `json:"result_repr,omitempty" jsonschema:"text representation of the produced value"`
	Error          *ExecutionErrorPayload `json:"error,omitempty" jsonschema:"exception raised by the code"`
	Output         string                 `json:"output" jsonschema:"all output as a console would show it"`
	ExecutionCount int                    `json:"execution_count,omitempty"`
	Failure        *ToolFailure           `json:"failure,omitempty" jsonschema:"set when the bridge failed to run the code"`
}

// ExecuteTool defines the MCP tool schema for executing code.
func ExecuteTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "execute_code",
		Description: "Executes Python code in the connected kernel and waits for its output; variables persist between calls. A timed-out execution stays checkable with check_execution until evicted by newer ones",
	}
}

// ExecuteHandler executes code on the active session.
func ExecuteHandler(bridge *Bridge) mcp.ToolHandlerFor[ExecuteInput, ExecuteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExecuteInput) (*mcp.CallToolResult, ExecuteResult, error) {
		meta := NewToolCallMetadata()
		out, err := bridge.Execute(ctx, input.Code)
		result := executeResultFromOutput(out)
		if err != nil {
			result.Failure = failureFromError(err)
			return FailedCallToolResult(meta), result, nil
		}
		return CallToolResultWithMetadata(meta), result, nil
	}
}

// StatusInput represents the MCP tool input for kernel status.
type StatusInput struct{}

// StatusTool defines the MCP tool schema for kernel status.
func StatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "kernel_status",
		Description: "Reports whether a kernel session is active and which endpoint it uses",
	}
}

// StatusHandler reports the session state. It never fails.
func StatusHandler(bridge *Bridge) mcp.ToolHandlerFor[StatusInput, KernelStatus] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, KernelStatus, error) {
		return CallToolResultWithMetadata(NewToolCallMetadata()), bridge.Status(), nil
	}
}

// DisconnectInput represents the MCP tool input for disconnecting.
type DisconnectInput struct{}

// DisconnectResult represents the MCP tool output for disconnecting.
type DisconnectResult struct {
	Disconnected bool   `json:"disconnected" jsonschema:"true once no session is active"`
	WasConnected bool   `json:"was_connected" jsonschema:"whether a session was closed by this call"`
	Message      string `json:"message"`
}

// DisconnectTool defines the MCP tool schema for disconnecting.
func DisconnectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "disconnect_kernel",
		Description: "Closes the active kernel session; does nothing when none is active. The kernel process keeps running",
	}
}

// DisconnectHandler closes the active session.
func DisconnectHandler(bridge *Bridge) mcp.ToolHandlerFor[DisconnectInput, DisconnectResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ DisconnectInput) (*mcp.CallToolResult, DisconnectResult, error) {
		meta := NewToolCallMetadata()
		closed := bridge.Disconnect(ctx)
		message := "no active kernel session"
		if closed {
			message = "disconnected from kernel"
		}
		return CallToolResultWithMetadata(meta), DisconnectResult{Disconnected: true, WasConnected: closed, Message: message}, nil
	}
}
