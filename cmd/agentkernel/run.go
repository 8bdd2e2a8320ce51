package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/event"
	"goa.design/agentkernel/runtime/agent/hooks"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/session"
	"goa.design/agentkernel/runtime/agent/telemetry"
)

func newRunCmd(g *globals) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task to completion",
		Long: `Run starts a task mode session: the agent works on the task until it
answers, a budget is exhausted or the command is interrupted. Tools that
require approval prompt on stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runTask(ctx, cfg, sessionID, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session identifier (defaults to a random UUID)")
	return cmd
}

func runTask(ctx context.Context, cfg Config, sessionID, task string, in io.Reader, out, errOut io.Writer) error {
	logger := telemetry.NewClueLogger()
	st, err := newStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(context.WithoutCancel(ctx))

	llm, err := st.llm(ctx)
	if err != nil {
		return err
	}
	tr, err := st.transport(ctx, sessionID)
	if err != nil {
		return err
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logger.Warn(ctx, "close transport", "err", err)
		}
	}()

	recorder := telemetry.NewRecorder(logger, telemetry.NewClueMetrics())
	spawner, err := st.spawner(sessionID, llm, recorder)
	if err != nil {
		return err
	}
	defer spawner.Wait()

	kopts, budgets := st.kernelOptions()
	bus := hooks.NewBus()
	sess, err := session.New(session.Options{
		ID:        sessionID,
		Kernel:    kernel.New(kopts, kernel.NewState(budgets, "")),
		Transport: tr,
		Capabilities: capability.Set{
			Tool:      st.toolCapability(),
			LLM:       llm,
			Worker:    spawner,
			Telemetry: recorder,
		},
		ApprovalTimeout: cfg.ApprovalTimeout,
		Bus:             bus,
		Journal:         st.journal,
		Store:           st.store,
		MaxInFlight:     cfg.MaxInFlight,
		Logger:          logger,
		Tracer:          telemetry.NewClueTracer(),
	})
	if err != nil {
		return err
	}

	ui := sess.Publisher(event.SourceUI)
	appr := newApprover(in, errOut, func(ctx context.Context, ev event.KernelEvent) error {
		_, err := ui.Publish(ctx, ev)
		return err
	})
	for _, sub := range []hooks.Subscriber{hooks.NewLogSubscriber(logger), appr} {
		s, err := bus.Register(sub)
		if err != nil {
			return err
		}
		defer s.Close()
	}

	if _, err := sess.Publisher(event.SourceUser).Publish(ctx, event.UserMessage{Text: task}); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	logger.Info(ctx, "session started", "session", sessionID, "provider", cfg.Provider, "model", cfg.Model)

	var reason agent.HaltReason
	eg, egctx := errgroup.WithContext(ctx)
	approvals, stopApprovals := context.WithCancel(egctx)
	eg.Go(func() error {
		defer stopApprovals()
		var err error
		reason, err = sess.Run(egctx)
		return err
	})
	eg.Go(func() error { return appr.Run(approvals) })
	if err := eg.Wait(); err != nil {
		return err
	}

	if resp := sess.LastResponse(); resp != "" {
		fmt.Fprintln(out, resp)
	}
	if reason.Kind != agent.HaltCompleted {
		return &haltError{reason: reason}
	}
	return nil
}
