package outbound

import "context"

// DependencyProbe checks that an external collaborator is reachable before a job starts.
type DependencyProbe interface {
	Name() string
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to the DependencyProbe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

// Name returns the probe name.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Probe runs the wrapped function.
func (p ProbeFunc) Probe(ctx context.Context) error { return p.Fn(ctx) }
