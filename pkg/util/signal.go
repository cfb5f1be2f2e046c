package util

import "sync"

// SignalHandler receives the sender and any extra params passed to Emit.
type SignalHandler func(sender any, params ...any)

// Signals is a tiny in-process event bus. Handlers run synchronously in
// the emitter's goroutine, in registration order.
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]SignalHandler
}

var defaultSignals = NewSignals()

func NewSignals() *Signals {
	return &Signals{handlers: make(map[string][]SignalHandler)}
}

// Sig returns the process wide bus.
func Sig() *Signals {
	return defaultSignals
}

func (s *Signals) Connect(name string, handler SignalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = append(s.handlers[name], handler)
}

func (s *Signals) Emit(name string, sender any, params ...any) {
	s.mu.RLock()
	handlers := append([]SignalHandler(nil), s.handlers[name]...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(sender, params...)
	}
}

// Clear drops every handler registered under name.
func (s *Signals) Clear(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
}
