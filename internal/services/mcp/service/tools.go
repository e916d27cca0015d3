package service

import (
	"fmt"

	"github.com/louisbranch/ipython-mcp/internal/services/mcp/domain"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type mcpRegistrationTarget interface {
	AddTool(*mcp.Tool, any) error
	AddResourceTemplate(*mcp.ResourceTemplate, mcp.ResourceHandler)
	AddResource(*mcp.Resource, mcp.ResourceHandler)
}

// registerKernelTools registers the session lifecycle tools and execute_code.
func registerKernelTools(registrar mcpRegistrationTarget, bridge *domain.Bridge) error {
	registrations := []struct {
		tool    *mcp.Tool
		handler any
	}{
		{tool: domain.StartTool(), handler: domain.StartHandler(bridge)},
		{tool: domain.ConnectTool(), handler: domain.ConnectHandler(bridge)},
		{tool: domain.ExecuteTool(), handler: domain.ExecuteHandler(bridge)},
		{tool: domain.StatusTool(), handler: domain.StatusHandler(bridge)},
		{tool: domain.DisconnectTool(), handler: domain.DisconnectHandler(bridge)},
	}
	for _, registration := range registrations {
		if err := registerTool(registrar, registration.tool, registration.handler); err != nil {
			return err
		}
	}
	return nil
}

// registerExecutionTools registers the non-blocking execution tools.
func registerExecutionTools(registrar mcpRegistrationTarget, bridge *domain.Bridge) error {
	if err := registerTool(registrar, domain.SubmitTool(), domain.SubmitHandler(bridge)); err != nil {
		return err
	}
	if err := registerTool(registrar, domain.CheckTool(), domain.CheckHandler(bridge)); err != nil {
		return err
	}
	if err := registerTool(registrar, domain.InterruptTool(), domain.InterruptHandler(bridge)); err != nil {
		return err
	}
	return registerTool(registrar, domain.VariableExistsTool(), domain.VariableExistsHandler(bridge))
}

func registerLaunchTools(registrar mcpRegistrationTarget, bridge *domain.Bridge) error {
	return registerTool(registrar, domain.ListLaunchesTool(), domain.ListLaunchesHandler(bridge))
}

func registerTool(registrar mcpRegistrationTarget, tool *mcp.Tool, handler any) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	return registrar.AddTool(tool, handler)
}

// registerKernelResources registers the readable session status resource.
func registerKernelResources(registrar mcpRegistrationTarget, bridge *domain.Bridge) {
	registrar.AddResource(domain.StatusResource(), domain.StatusResourceHandler(bridge))
}

func registerLaunchResources(registrar mcpRegistrationTarget, bridge *domain.Bridge) {
	registrar.AddResource(domain.LaunchesResource(), domain.LaunchesResourceHandler(bridge))
}
