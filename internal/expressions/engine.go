package expressions

import (
	"context"
	"sync"

	"github.com/rendis/applogic/pkg/schema"
)

// Engine evaluates assertion expressions over recorded execution data.
// Two implementations: CEL (boolean checks) and GoJQ (extraction and reshaping).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs by source. Safe for concurrent use;
// a source that fails to compile is not cached.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

func (c *programCache[P]) get(source string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[source]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[source]; ok {
		return p, nil
	}
	p, err := compile(source)
	if err != nil {
		return p, err
	}
	c.progs[source] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

// engineError reports a failure of engine on expression.
func engineError(kind, engine, stage, expression string, err error) *schema.ActionError {
	return schema.NewErrorf(kind, "%s %s error in %q: %s", engine, stage, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"engine": engine, "expression": expression})
}
