package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/diagram"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/simulator"
	"github.com/rendis/applogic/internal/store"
	"github.com/rendis/applogic/pkg/schema"
)

type appSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Actions     int           `json:"actions"`
	Limits      schema.Limits `json:"limits"`
}

type appDetail struct {
	appSummary
	Config map[string]any `json:"config,omitempty"`
	Agents []string       `json:"agents"`
}

type actionSummary struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	ToolType    schema.ToolType             `json:"tool_type,omitempty"`
	Params      map[string]schema.ParamSpec `json:"params,omitempty"`
	Returns     *schema.ReturnSpec          `json:"returns,omitempty"`
	Warnings    []schema.ValidationIssue    `json:"warnings,omitempty"`
}

type actionDetail struct {
	actionSummary
	Definition *schema.ActionDefinition `json:"definition"`
}

// executeRequest is the body of POST .../execute.
type executeRequest struct {
	AgentID string                   `json:"agent_id"`
	Params  map[string]any           `json:"params"`
	Context *schema.ExecutionContext `json:"context"`
}

type pathsResponse struct {
	Action    string     `json:"action"`
	Count     int        `json:"count"`
	Truncated bool       `json:"truncated"`
	Paths     [][]string `json:"paths"`
}

func summarize(a *app.App) appSummary {
	return appSummary{
		Name:        a.Name(),
		Description: a.Bundle().Description,
		Actions:     len(a.Actions()),
		Limits:      a.Limits(),
	}
}

func describe(c *engine.CompiledAction) actionSummary {
	def := c.Definition()
	return actionSummary{
		Name:        def.Name,
		Description: def.Description,
		ToolType:    def.ToolType,
		Params:      def.Params,
		Returns:     def.Returns,
		Warnings:    c.Warnings(),
	}
}

func (s *PanelServer) lookupApp(w http.ResponseWriter, r *http.Request) (*app.App, bool) {
	a, err := s.deps.Simulator.Registry().Get(chi.URLParam(r, "app"))
	if err != nil {
		s.writeActionError(w, r, err)
		return nil, false
	}
	return a, true
}

func (s *PanelServer) lookupAction(w http.ResponseWriter, r *http.Request) (*app.App, *engine.CompiledAction, bool) {
	a, ok := s.lookupApp(w, r)
	if !ok {
		return nil, nil, false
	}
	c, err := a.Action(chi.URLParam(r, "action"))
	if err != nil {
		s.writeActionError(w, r, err)
		return nil, nil, false
	}
	return a, c, true
}

func (s *PanelServer) handleApps(w http.ResponseWriter, _ *http.Request) {
	apps := s.deps.Simulator.Registry().List()
	out := make([]appSummary, 0, len(apps))
	for _, a := range apps {
		out = append(out, summarize(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *PanelServer) handleApp(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupApp(w, r)
	if !ok {
		return
	}
	wld, err := s.deps.Simulator.World(a.Name())
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appDetail{
		appSummary: summarize(a),
		Config:     a.Bundle().Config,
		Agents:     wld.Agents(),
	})
}

func (s *PanelServer) handleState(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupApp(w, r)
	if !ok {
		return
	}
	wld, err := s.deps.Simulator.World(a.Name())
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	agents, shared := wld.Export()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": wld.Version(),
		"agents":  agents,
		"shared":  shared,
	})
}

func (s *PanelServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Simulator.Reset(chi.URLParam(r, "app")); err != nil {
		s.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *PanelServer) handleActions(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupApp(w, r)
	if !ok {
		return
	}
	actions := a.Actions()
	out := make([]actionSummary, 0, len(actions))
	for _, c := range actions {
		out = append(out, describe(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *PanelServer) handleAction(w http.ResponseWriter, r *http.Request) {
	_, c, ok := s.lookupAction(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, actionDetail{actionSummary: describe(c), Definition: c.Definition()})
}

// handleExecute runs an action. A failed call is still a 200: the failure is
// the call's result, not a transport error.
func (s *PanelServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	rec, err := s.deps.Simulator.Execute(r.Context(), simulator.Request{
		App:     chi.URLParam(r, "app"),
		Action:  chi.URLParam(r, "action"),
		AgentID: body.AgentID,
		Params:  body.Params,
		Context: body.Context,
	})
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *PanelServer) handlePaths(w http.ResponseWriter, r *http.Request) {
	paths, truncated, err := s.deps.Simulator.Paths(chi.URLParam(r, "app"), chi.URLParam(r, "action"), queryInt(r, "limit", 0))
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	out := pathsResponse{
		Action:    chi.URLParam(r, "action"),
		Count:     len(paths),
		Truncated: truncated,
		Paths:     make([][]string, 0, len(paths)),
	}
	for _, p := range paths {
		out.Paths = append(out.Paths, p)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDiagram renders the action's flow graph. ?execution=<id> overlays
// the trace of a recorded call of the same action.
func (s *PanelServer) handleDiagram(w http.ResponseWriter, r *http.Request) {
	_, c, ok := s.lookupAction(w, r)
	if !ok {
		return
	}
	format := diagram.Format(strings.ToLower(r.URL.Query().Get("format")))

	var trace *schema.Trace
	if id := r.URL.Query().Get("execution"); id != "" {
		rec, err := s.getExecution(r, id)
		if err != nil {
			s.writeActionError(w, r, err)
			return
		}
		if rec.Action != c.Name() {
			writeError(w, http.StatusBadRequest, "execution "+id+" is a call of "+rec.Action)
			return
		}
		trace = rec.Result.Trace
	}

	data, err := diagram.Render(r.Context(), c.Graph(), trace, format)
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	if format == "" {
		format = diagram.FormatMermaid
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *PanelServer) handleCoverage(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Simulator.Coverage(chi.URLParam(r, "app"))
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

var errNoStore = schema.NewError(schema.ErrKindNotFound, "execution log is disabled")

func (s *PanelServer) getExecution(r *http.Request, id string) (*store.Execution, error) {
	st := s.deps.Simulator.Store()
	if st == nil {
		return nil, errNoStore
	}
	return st.GetExecution(r.Context(), id)
}

func (s *PanelServer) handleExecutions(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupApp(w, r)
	if !ok {
		return
	}
	st := s.deps.Simulator.Store()
	if st == nil {
		s.writeActionError(w, r, errNoStore)
		return
	}

	filter := store.ExecutionFilter{
		App:     a.Name(),
		Action:  r.URL.Query().Get("action"),
		AgentID: r.URL.Query().Get("agent_id"),
		Success: queryBool(r, "success"),
		Limit:   queryInt(r, "limit", 50),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}

	execs, err := st.ListExecutions(r.Context(), filter)
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *PanelServer) handleExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.getExecution(r, chi.URLParam(r, "id"))
	if err != nil {
		var ae *schema.ActionError
		if !errors.As(err, &ae) {
			err = schema.NewErrorf(schema.ErrKindStore, "get execution: %s", err.Error()).WithCause(err)
		}
		s.writeActionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
