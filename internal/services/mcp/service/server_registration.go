package service

import (
	"context"
	"fmt"

	"github.com/louisbranch/ipython-mcp/internal/platform/otel"
	"github.com/louisbranch/ipython-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("services/mcp/service")

type mcpRegistrationKind int

const (
	mcpRegistrationKindTools mcpRegistrationKind = iota
	mcpRegistrationKindResources
)

type mcpRegistrationModule struct {
	name     string
	kind     mcpRegistrationKind
	register func(mcpRegistrationTarget) error
}

const (
	mcpKernelToolsModuleName    = "kernel-tools"
	mcpExecutionToolsModuleName = "execution-tools"
	mcpLaunchToolsModuleName    = "launch-tools"
	mcpKernelResourceModuleName = "kernel-resources"
	mcpLaunchResourceModuleName = "launch-resources"
)

const (
	mcpToolSpanPrefix    = "mcp.tool "
	mcpToolNameAttribute = "mcp.tool.name"
)

type mcpServerRegistrationAdapter struct {
	server *mcp.Server
}

func (r mcpServerRegistrationAdapter) AddTool(tool *mcp.Tool, handler any) error {
	return addMCPTool(r.server, tool, handler)
}

func (r mcpServerRegistrationAdapter) AddResourceTemplate(resourceTemplate *mcp.ResourceTemplate, handler mcp.ResourceHandler) {
	r.server.AddResourceTemplate(resourceTemplate, handler)
}

func (r mcpServerRegistrationAdapter) AddResource(resource *mcp.Resource, handler mcp.ResourceHandler) {
	r.server.AddResource(resource, handler)
}

type mcpToolRegistrar struct {
	matches func(any) bool
	add     func(*mcp.Server, *mcp.Tool, any)
}

func newMCPToolRegistrar[I any, O any]() mcpToolRegistrar {
	return mcpToolRegistrar{
		matches: func(handler any) bool {
			_, ok := handler.(mcp.ToolHandlerFor[I, O])
			return ok
		},
		add: func(server *mcp.Server, tool *mcp.Tool, handler any) {
			mcp.AddTool(server, tool, tracedToolHandler(tool.Name, handler.(mcp.ToolHandlerFor[I, O])))
		},
	}
}

var mcpToolRegistrars = []mcpToolRegistrar{
	newMCPToolRegistrar[domain.ConnectInput, domain.ConnectResult](),
	newMCPToolRegistrar[domain.StartInput, domain.StartKernelResult](),
	newMCPToolRegistrar[domain.ExecuteInput, domain.ExecuteResult](),
	newMCPToolRegistrar[domain.StatusInput, domain.KernelStatus](),
	newMCPToolRegistrar[domain.DisconnectInput, domain.DisconnectResult](),
	newMCPToolRegistrar[domain.ExecuteInput, domain.SubmitResult](),
	newMCPToolRegistrar[domain.ExecutionRefInput, domain.CheckResult](),
	newMCPToolRegistrar[domain.ExecutionRefInput, domain.InterruptResult](),
	newMCPToolRegistrar[domain.VariableExistsInput, domain.VariableExistsResult](),
	newMCPToolRegistrar[domain.ListLaunchesInput, domain.ListLaunchesResult](),
}

func addMCPTool(server *mcp.Server, tool *mcp.Tool, handler any) error {
	for _, registrar := range mcpToolRegistrars {
		if registrar.matches(handler) {
			registrar.add(server, tool, handler)
			return nil
		}
	}
	toolName := "<nil>"
	if tool != nil {
		toolName = tool.Name
	}
	return fmt.Errorf("mcp registration adapter does not support handler type %T for tool %q", handler, toolName)
}

// tracedToolHandler runs handler inside a span named after the tool. Failed
// tool results mark the span as an error even though no Go error is returned.
func tracedToolHandler[I any, O any](name string, handler mcp.ToolHandlerFor[I, O]) mcp.ToolHandlerFor[I, O] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input I) (*mcp.CallToolResult, O, error) {
		ctx, span := tracer.Start(ctx, mcpToolSpanPrefix+name, trace.WithAttributes(
			attribute.String(mcpToolNameAttribute, name),
		))
		defer span.End()

		result, output, err := handler(ctx, req, input)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		case result != nil && result.IsError:
			if id, ok := result.Meta[domain.InvocationIDKey].(string); ok {
				span.SetAttributes(attribute.String(domain.InvocationIDKey, id))
			}
			span.SetStatus(otelcodes.Error, "tool call failed")
		}
		return result, output, err
	}
}

func newMCPRegistrationModules(bridge *domain.Bridge) []mcpRegistrationModule {
	return []mcpRegistrationModule{
		{
			name: mcpKernelToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerKernelTools(registrar, bridge)
			},
		},
		{
			name: mcpExecutionToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerExecutionTools(registrar, bridge)
			},
		},
		{
			name: mcpLaunchToolsModuleName,
			kind: mcpRegistrationKindTools,
			register: func(registrar mcpRegistrationTarget) error {
				return registerLaunchTools(registrar, bridge)
			},
		},
		{
			name: mcpKernelResourceModuleName,
			kind: mcpRegistrationKindResources,
			register: func(registrar mcpRegistrationTarget) error {
				registerKernelResources(registrar, bridge)
				return nil
			},
		},
		{
			name: mcpLaunchResourceModuleName,
			kind: mcpRegistrationKindResources,
			register: func(registrar mcpRegistrationTarget) error {
				registerLaunchResources(registrar, bridge)
				return nil
			},
		},
	}
}
