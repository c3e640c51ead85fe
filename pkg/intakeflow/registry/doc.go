// Package registry provides the small concurrency primitives shared by the
// engine: a generic keyed Registry and a per-key mutex set.
//
// Registry backs read-heavy lookup tables:
//
//	graphs := registry.New[string, *intakeflow.FlowGraph]()
//	graphs.Register(g.Key(), g)
//	g, ok := graphs.Get("cleaning@2")
//
// Locks serializes work per session while letting different sessions run
// in parallel:
//
//	unlock := locks.Lock(sessionID)
//	defer unlock()
package registry
