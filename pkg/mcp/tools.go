package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/diagram"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/simulator"
	"github.com/rendis/applogic/internal/validation"
	"github.com/rendis/applogic/pkg/schema"
)

// agentArg is the reserved argument naming the acting agent.
const agentArg = "agent_id"

// tools returns the introspection tools followed by one tool per action.
func (s *Server) tools() ([]server.ServerTool, error) {
	tools := []server.ServerTool{
		{Tool: pathsTool(), Handler: s.handlePaths},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: coverageTool(), Handler: s.handleCoverage},
	}
	for _, a := range s.sim.Registry().List() {
		for _, c := range a.Actions() {
			tool, err := actionTool(a, c)
			if err != nil {
				return nil, err
			}
			tools = append(tools, server.ServerTool{Tool: tool, Handler: s.actionHandler(a.Name(), c.Name())})
		}
	}
	return tools, nil
}

// ToolName is the MCP tool name of an app action.
func ToolName(app, action string) string {
	return app + "." + action
}

// actionTool builds the tool of one action. Its input schema is the action's
// param schema with agent_id added as a required argument.
func actionTool(a *app.App, c *engine.CompiledAction) (mcp.Tool, error) {
	def := c.Definition()
	raw, err := validation.ParamSchema(def.Params)
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("tool %s: %w", ToolName(a.Name(), def.Name), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return mcp.Tool{}, fmt.Errorf("tool %s: %w", ToolName(a.Name(), def.Name), err)
	}
	delete(doc, "$schema")

	props, _ := doc["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		doc["properties"] = props
	}
	if _, declared := props[agentArg]; !declared {
		props[agentArg] = map[string]any{"type": "string", "description": "ID of the acting agent"}
	}
	required, _ := doc["required"].([]any)
	doc["required"] = append([]any{agentArg}, required...)

	schemaJSON, err := json.Marshal(doc)
	if err != nil {
		return mcp.Tool{}, err
	}

	desc := def.Description
	if desc == "" {
		desc = fmt.Sprintf("Perform %s in %s", def.Name, a.Name())
	}
	tool := mcp.NewToolWithRawSchema(ToolName(a.Name(), def.Name), desc, schemaJSON)
	readOnly := def.ToolType == schema.ToolTypeRead
	tool.Annotations.ReadOnlyHint = &readOnly
	return tool, nil
}

// actionHandler runs one action as the agent named in the arguments. Every
// other argument is passed as a param.
func (s *Server) actionHandler(appName, action string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := req.RequireString(agentArg)
		if err != nil {
			return mcp.NewToolResultError("agent_id is required"), nil
		}
		s.captureSession(ctx, appName, agentID)

		params := make(map[string]any)
		for k, v := range req.GetArguments() {
			params[k] = v
		}
		if a, err := s.sim.Registry().Get(appName); err == nil {
			if c, err := a.Action(action); err == nil {
				if _, declared := c.Definition().Params[agentArg]; !declared {
					delete(params, agentArg)
				}
			}
		}

		rec, err := s.sim.Execute(ctx, simulator.Request{
			App:     appName,
			Action:  action,
			AgentID: agentID,
			Params:  params,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := marshalResult(rec.Result)
		if err != nil {
			return nil, err
		}
		res.IsError = !rec.Result.Success
		return res, nil
	}
}

func pathsTool() mcp.Tool {
	return mcp.NewTool("applogic.paths",
		mcp.WithDescription("List every control-flow path of an action, from entry to a return or error"),
		mcp.WithString("app", mcp.Required(), mcp.Description("App name")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action name")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of paths (default: 10000)")),
	)
}

func (s *Server) handlePaths(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appName, err := req.RequireString("app")
	if err != nil {
		return mcp.NewToolResultError("app is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	limit := int(req.GetFloat("limit", 0))

	paths, truncated, err := s.sim.Paths(appName, action, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([][]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p)
	}
	return marshalResult(map[string]any{
		"action":    action,
		"count":     len(out),
		"truncated": truncated,
		"paths":     out,
	})
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("applogic.diagram",
		mcp.WithDescription("Draw the control-flow graph of an action. Returns Mermaid flowchart syntax, ASCII art, or a base64-encoded PNG image"),
		mcp.WithString("app", mcp.Required(), mcp.Description("App name")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action name")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii", "png", "svg"),
			mcp.Description("Output format"),
		),
		mcp.WithString("execution_id", mcp.Description("Overlay the path taken by a recorded call")),
	)
}

func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appName, err := req.RequireString("app")
	if err != nil {
		return mcp.NewToolResultError("app is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	format := diagram.Format(req.GetString("format", string(diagram.FormatMermaid)))

	a, err := s.sim.Registry().Get(appName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := a.Action(action)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var trace *schema.Trace
	if id := req.GetString("execution_id", ""); id != "" {
		st := s.sim.Store()
		if st == nil {
			return mcp.NewToolResultError("execution log is disabled"), nil
		}
		rec, err := st.GetExecution(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %v", err)), nil
		}
		if rec.App != appName || rec.Action != action {
			return mcp.NewToolResultError(fmt.Sprintf("execution %s is a call of %s", id, ToolName(rec.App, rec.Action))), nil
		}
		trace = rec.Result.Trace
	}

	data, err := diagram.Render(ctx, c.Graph(), trace, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", err)), nil
	}
	if format == diagram.FormatPNG {
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stateTool() mcp.Tool {
	return mcp.NewTool("applogic.state",
		mcp.WithDescription("Read the current world state of an app: every agent and the shared state"),
		mcp.WithString("app", mcp.Required(), mcp.Description("App name")),
	)
}

func (s *Server) handleState(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appName, err := req.RequireString("app")
	if err != nil {
		return mcp.NewToolResultError("app is required"), nil
	}
	w, err := s.sim.World(appName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agents, shared := w.Export()
	return marshalResult(map[string]any{
		"version": w.Version(),
		"agents":  agents,
		"shared":  shared,
	})
}

func coverageTool() mcp.Tool {
	return mcp.NewTool("applogic.coverage",
		mcp.WithDescription("Report action, branch and path coverage of the calls served so far"),
		mcp.WithString("app", mcp.Required(), mcp.Description("App name")),
	)
}

func (s *Server) handleCoverage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appName, err := req.RequireString("app")
	if err != nil {
		return mcp.NewToolResultError("app is required"), nil
	}
	report, err := s.sim.Coverage(appName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(report)
}

func (s *Server) captureSession(ctx context.Context, appName, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(appName, agentID, session.SessionID())
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
