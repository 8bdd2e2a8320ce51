// Package executor dispatches the ready nodes of a pending intent graph with
// bounded parallelism.
//
// The executor never computes a static plan. Callers invoke Dispatch after
// every merge and every completion, so a graph that grows while nodes are in
// flight is picked up on the next call. Admission is gated by a weighted
// semaphore: a ready node that cannot be admitted stays ready and is
// reconsidered on the next Dispatch.
package executor

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/intent"
)

// DefaultMaxInFlight is the in-flight limit used when none is configured.
const DefaultMaxInFlight = 4

type (
	// Runner executes a single intent node. interpreter.Interpreter
	// implements Runner.
	Runner interface {
		Execute(ctx context.Context, node intent.Node) intent.Observation
	}

	// RunnerFunc adapts a function to Runner.
	RunnerFunc func(ctx context.Context, node intent.Node) intent.Observation

	// Result pairs an executed node with its observation.
	Result struct {
		Node        intent.Node
		Observation intent.Observation
	}

	// Executor runs intent nodes concurrently. Dispatch, Complete and
	// InFlight must be called from a single goroutine, the owner of the
	// pending graph and the completed set.
	Executor struct {
		runner   Runner
		sem      *semaphore.Weighted
		inflight intent.Set
		results  chan Result
		wg       sync.WaitGroup
	}
)

// Execute calls f.
func (f RunnerFunc) Execute(ctx context.Context, node intent.Node) intent.Observation {
	return f(ctx, node)
}

// New returns an executor admitting at most maxInFlight concurrent nodes.
// Values below one use DefaultMaxInFlight.
func New(r Runner, maxInFlight int) *Executor {
	if maxInFlight < 1 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Executor{
		runner:   r,
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		inflight: intent.NewSet(),
		results:  make(chan Result, maxInFlight),
	}
}

// Results delivers observations in completion order.
func (e *Executor) Results() <-chan Result {
	return e.results
}

// Dispatch starts the ready nodes of g that are not already in flight, in
// priority order (highest first, then ascending ID), until the in-flight
// limit is reached. It returns the IDs it started.
func (e *Executor) Dispatch(ctx context.Context, g *intent.Graph, completed intent.Set) []agent.IntentID {
	var started []agent.IntentID
	for _, n := range e.candidates(g, completed) {
		if !e.sem.TryAcquire(1) {
			break
		}
		e.inflight.Add(n.ID)
		started = append(started, n.ID)
		e.wg.Add(1)
		go e.run(ctx, n)
	}
	return started
}

// Complete forgets an in-flight node. Call it after recording the node's ID
// in the completed set.
func (e *Executor) Complete(id agent.IntentID) {
	delete(e.inflight, id)
}

// InFlight returns the number of dispatched nodes whose results were not
// completed yet.
func (e *Executor) InFlight() int {
	return len(e.inflight)
}

// Wait blocks until every dispatched goroutine returned. Results produced
// after ctx was cancelled are dropped.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Run drives g to completion and returns the results in completion order.
// It is a convenience for callers that do not merge new graphs mid-flight.
func (e *Executor) Run(ctx context.Context, g *intent.Graph, completed intent.Set) ([]Result, error) {
	var out []Result
	for !g.IsComplete(completed) {
		e.Dispatch(ctx, g, completed)
		if e.InFlight() == 0 {
			break
		}
		select {
		case r := <-e.results:
			completed.Add(r.Node.ID)
			e.Complete(r.Node.ID)
			out = append(out, r)
		case <-ctx.Done():
			e.Wait()
			return out, ctx.Err()
		}
	}
	return out, nil
}

func (e *Executor) candidates(g *intent.Graph, completed intent.Set) []intent.Node {
	ready := g.ReadyNodes(completed)
	nodes := make([]intent.Node, 0, len(ready))
	for _, id := range ready {
		if e.inflight.Has(id) {
			continue
		}
		if n, ok := g.Node(id); ok {
			nodes = append(nodes, n)
		}
	}
	slices.SortStableFunc(nodes, func(a, b intent.Node) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return nodes
}

func (e *Executor) run(ctx context.Context, n intent.Node) {
	defer e.wg.Done()
	obs := e.runner.Execute(ctx, n)
	e.sem.Release(1)
	select {
	case e.results <- Result{Node: n, Observation: obs}:
	case <-ctx.Done():
	}
}
