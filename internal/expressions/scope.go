package expressions

// Root names addressable from expressions.
const (
	RootParams = "params"
	RootAgent  = "agent"
	RootAgents = "agents"
	RootShared = "shared"
	RootState  = "state"
	RootConfig = "config"
	RootSelf   = "self"
)

// Scope resolves identifiers during evaluation. Loop bindings are pushed as
// child scopes; roots and services are shared by the whole chain.
//
// Resolution order: loop bindings, roots, then bare parameter names.
type Scope struct {
	parent  *Scope
	name    string
	value   any
	roots   map[string]any
	params  map[string]any
	agentID string
	svc     *Services
}

// NewScope creates a root scope. The maps are used as-is, so callers that
// mutate them after evaluation observe their own writes.
func NewScope(agentID string, params, agent, agents, shared, config map[string]any, svc *Services) *Scope {
	if params == nil {
		params = map[string]any{}
	}
	roots := map[string]any{
		RootParams: params,
		RootAgent:  orEmpty(agent),
		RootAgents: orEmpty(agents),
		RootShared: orEmpty(shared),
		RootConfig: orEmpty(config),
	}
	roots[RootState] = roots[RootShared]
	return &Scope{
		roots:   roots,
		params:  params,
		agentID: agentID,
		svc:     svc.WithDefaults(),
	}
}

// Bind returns a child scope with name bound to value.
func (s *Scope) Bind(name string, value any) *Scope {
	return &Scope{
		parent:  s,
		name:    name,
		value:   value,
		roots:   s.roots,
		params:  s.params,
		agentID: s.agentID,
		svc:     s.svc,
	}
}

// Lookup resolves an identifier.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.parent != nil && cur.name == name {
			return cur.value, true
		}
	}
	if name == RootSelf {
		return s.agentID, true
	}
	if v, ok := s.roots[name]; ok {
		return v, true
	}
	v, ok := s.params[name]
	return v, ok
}

// Root returns a root container by name ("state" aliases "shared").
func (s *Scope) Root(name string) any {
	return s.roots[name]
}

// Services returns the injected services.
func (s *Scope) Services() *Services {
	return s.svc
}

// AgentID returns the acting agent id.
func (s *Scope) AgentID() string {
	return s.agentID
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
