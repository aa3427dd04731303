package breaker

import "sync"

// Registry hands out one breaker per external-service identifier.
type Registry struct {
	config  Config
	onState StateChangeHandler

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(config Config, onState StateChangeHandler) *Registry {
	return &Registry{
		config:   config,
		onState:  onState,
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[service]
	if !ok {
		b = New(service, r.config, r.onState)
		r.breakers[service] = b
	}
	return b
}
