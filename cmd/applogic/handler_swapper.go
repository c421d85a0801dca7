package main

import (
	"net/http"
	"sync/atomic"
)

// handlerSwapper serves through a handler that can be replaced while
// requests are in flight. serve swaps in a fresh panel on bundle reload;
// requests already running finish on the old one.
type handlerSwapper struct {
	current atomic.Pointer[http.Handler]
	swaps   atomic.Int64
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	s := &handlerSwapper{}
	s.current.Store(&h)
	return s
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

// Swap replaces the handler for subsequent requests.
func (s *handlerSwapper) Swap(h http.Handler) {
	s.current.Store(&h)
	s.swaps.Add(1)
}

// Swaps counts the replacements so far.
func (s *handlerSwapper) Swaps() int64 { return s.swaps.Load() }
