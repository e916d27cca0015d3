package domain

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/ipython-mcp/internal/platform/errors"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/client"
)

func executeResultFromOutput(out client.Output) ExecuteResult {
	result := ExecuteResult{
		MsgID:          out.MsgID,
		Stdout:         out.Stdout,
		Stderr:         out.Stderr,
		ResultRepr:     out.ResultRepr(),
		Output:         out.Text(),
		ExecutionCount: out.ExecutionCount,
	}
	if out.Error != nil {
		result.Error = &ExecutionErrorPayload{
			Kind:      apperrors.CodeRemoteExecution.String(),
			Name:      out.Error.Name,
			Value:     out.Error.Value,
			Traceback: out.Error.Traceback,
		}
	}
	return result
}

// SubmitResult represents the MCP tool output for a non-blocking execute.
type SubmitResult struct {
	MsgID   string       `json:"msg_id,omitempty" jsonschema:"id to pass to check_execution"`
	Failure *ToolFailure `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// SubmitTool defines the MCP tool schema for non-blocking execution.
func SubmitTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "execute_code_nonblocking",
		Description: "Submits Python code to the connected kernel and returns a msg_id without waiting for output",
	}
}

// SubmitHandler submits code without waiting.
func SubmitHandler(bridge *Bridge) mcp.ToolHandlerFor[ExecuteInput, SubmitResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExecuteInput) (*mcp.CallToolResult, SubmitResult, error) {
		meta := NewToolCallMetadata()
		msgID, err := bridge.Submit(ctx, input.Code)
		if err != nil {
			return FailedCallToolResult(meta), SubmitResult{Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), SubmitResult{MsgID: msgID}, nil
	}
}

// ExecutionRefInput names a submitted execution.
type ExecutionRefInput struct {
	MsgID string `json:"msg_id" jsonschema:"msg_id returned by execute_code_nonblocking"`
}

// CheckResult represents the MCP tool output for checking an execution.
type CheckResult struct {
	Done        bool           `json:"done" jsonschema:"whether the kernel finished the execution"`
	Interrupted bool           `json:"interrupted,omitempty" jsonschema:"whether an interrupt was sent"`
	Execution   *ExecuteResult `json:"execution,omitempty" jsonschema:"output collected so far"`
	Failure     *ToolFailure   `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// CheckTool defines the MCP tool schema for checking an execution.
func CheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "check_execution",
		Description: "Reports output collected so far for a non-blocking execution; finished executions are forgotten once reported",
	}
}

// CheckHandler reports an execution's progress.
func CheckHandler(bridge *Bridge) mcp.ToolHandlerFor[ExecutionRefInput, CheckResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ExecutionRefInput) (*mcp.CallToolResult, CheckResult, error) {
		meta := NewToolCallMetadata()
		out, err := bridge.Check(input.MsgID)
		if err != nil {
			return FailedCallToolResult(meta), CheckResult{Failure: failureFromError(err)}, nil
		}
		execution := executeResultFromOutput(out)
		return CallToolResultWithMetadata(meta), CheckResult{
			Done:        out.Done,
			Interrupted: out.Interrupted,
			Execution:   &execution,
		}, nil
	}
}

// InterruptResult represents the MCP tool output for an interrupt.
type InterruptResult struct {
	MsgID       string       `json:"msg_id,omitempty"`
	Interrupted bool         `json:"interrupted" jsonschema:"whether the kernel acknowledged the interrupt"`
	Failure     *ToolFailure `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// InterruptTool defines the MCP tool schema for interrupting an execution.
func InterruptTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "interrupt_execution",
		Description: "Sends an interrupt to the kernel for a pending non-blocking execution",
	}
}

// InterruptHandler interrupts a pending execution.
func InterruptHandler(bridge *Bridge) mcp.ToolHandlerFor[ExecutionRefInput, InterruptResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExecutionRefInput) (*mcp.CallToolResult, InterruptResult, error) {
		meta := NewToolCallMetadata()
		if err := bridge.Interrupt(ctx, input.MsgID); err != nil {
			return FailedCallToolResult(meta), InterruptResult{MsgID: input.MsgID, Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), InterruptResult{MsgID: input.MsgID, Interrupted: true}, nil
	}
}

// VariableExistsInput represents the MCP tool input for a globals lookup.
type VariableExistsInput struct {
	VarName string `json:"var_name" jsonschema:"Python identifier to look up"`
}

// VariableExistsResult represents the MCP tool output for a globals lookup.
type VariableExistsResult struct {
	VarName string       `json:"var_name"`
	Exists  bool         `json:"exists" jsonschema:"whether the name is bound in the kernel's globals"`
	Failure *ToolFailure `json:"failure,omitempty" jsonschema:"set when the call failed"`
}

// VariableExistsTool defines the MCP tool schema for a globals lookup.
func VariableExistsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "variable_exists",
		Description: "Checks whether a variable is defined in the kernel's global namespace",
	}
}

// VariableExistsHandler checks a global name.
func VariableExistsHandler(bridge *Bridge) mcp.ToolHandlerFor[VariableExistsInput, VariableExistsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VariableExistsInput) (*mcp.CallToolResult, VariableExistsResult, error) {
		meta := NewToolCallMetadata()
		exists, err := bridge.VariableExists(ctx, input.VarName)
		if err != nil {
			return FailedCallToolResult(meta), VariableExistsResult{VarName: input.VarName, Failure: failureFromError(err)}, nil
		}
		return CallToolResultWithMetadata(meta), VariableExistsResult{VarName: input.VarName, Exists: exists}, nil
	}
}
