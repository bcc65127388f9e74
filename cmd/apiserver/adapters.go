package main

import "context"

// healthChecker adapts a ping function to the handlers.HealthChecker
// interface.
type healthChecker struct {
	name  string
	check func(ctx context.Context) error
}

func (h healthChecker) Name() string                    { return h.name }
func (h healthChecker) Check(ctx context.Context) error { return h.check(ctx) }
