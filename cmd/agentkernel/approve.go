package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/hooks"
)

const approvalQueue = 16

var errApprovalQueueFull = errors.New("approval queue full")

// approver asks the operator to decide approval requests one at a time and
// publishes each decision as an ApprovalOutcome event. A closed input denies
// everything that follows.
type approver struct {
	lines    <-chan string
	out      io.Writer
	requests chan agent.ApprovalRequest
	publish  func(ctx context.Context, ev event.KernelEvent) error
}

func newApprover(in io.Reader, out io.Writer, publish func(context.Context, event.KernelEvent) error) *approver {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &approver{
		lines:    lines,
		out:      out,
		requests: make(chan agent.ApprovalRequest, approvalQueue),
		publish:  publish,
	}
}

// HandleEvent queues approval requests. Requests that do not fit are left to
// the approval timeout.
func (a *approver) HandleEvent(_ context.Context, ev hooks.Event) error {
	req, ok := ev.(*hooks.ApprovalRequestedEvent)
	if !ok {
		return nil
	}
	select {
	case a.requests <- req.Request:
		return nil
	default:
		return errApprovalQueueFull
	}
}

// Run prompts for queued requests until ctx is done.
func (a *approver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-a.requests:
			fmt.Fprintf(a.out, "approve %s? [y/N] ", req.Description)
			var line string
			select {
			case <-ctx.Done():
				return nil
			case line = <-a.lines:
			}
			d := decide(line)
			if !d.Granted {
				fmt.Fprintln(a.out, "denied")
			}
			err := a.publish(ctx, event.ApprovalOutcome{IntentID: req.IntentID, Decision: d})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("publish approval: %w", err)
			}
		}
	}
}

func decide(answer string) agent.Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return agent.Grant()
	default:
		return agent.Deny("denied by operator")
	}
}
