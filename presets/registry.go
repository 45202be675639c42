package presets

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/intercept"
	"github.com/toolink/admit/limiter"
)

// Registry maps preset names to their guards. It is built once at startup and
// passed to whatever mounts routes.
type Registry struct {
	guards map[string]*intercept.Guard
	order  []string
}

// Build validates every preset and creates its guard. The first invalid
// preset aborts the build.
func Build(decider intercept.Decider, presets []Preset, opts ...intercept.Option) (*Registry, error) {
	r := &Registry{guards: make(map[string]*intercept.Guard, len(presets))}
	for _, p := range presets {
		if _, dup := r.guards[p.Name]; dup {
			return nil, &limiter.ValidationError{Scope: p.Name, Field: "name", Message: "duplicate preset"}
		}
		g, err := intercept.NewGuard(decider, p.Config(), opts...)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		r.guards[p.Name] = g
		r.order = append(r.order, p.Name)

		log.Debug().
			Str("preset", p.Name).
			Dur("window", p.Window).
			Int64("max_requests", p.MaxRequests).
			Str("algorithm", string(p.Algorithm)).
			Msg("rate limit preset registered")
	}
	return r, nil
}

// Get returns the guard for name.
func (r *Registry) Get(name string) (*intercept.Guard, bool) {
	g, ok := r.guards[name]
	return g, ok
}

// Names returns preset names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Policies returns every registered policy keyed by preset name.
func (r *Registry) Policies() map[string]limiter.Policy {
	out := make(map[string]limiter.Policy, len(r.guards))
	for name, g := range r.guards {
		out[name] = g.Policy()
	}
	return out
}
