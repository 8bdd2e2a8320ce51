package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/runlog"
	"goa.design/agentkernel/runtime/agent/session"
	"goa.design/agentkernel/runtime/agent/telemetry"
)

func newReplayCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Rebuild a session from its journal",
		Long: `Replay feeds every journaled batch of a session through a fresh kernel and
prints the regenerated intent identifiers and the final state. It needs the
durable journal (journal: mongo) and the configuration the session ran with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Journal != JournalMongo {
				return errors.New("replay requires the mongo journal")
			}
			st, err := newStack(ctx, cfg, telemetry.NewClueLogger())
			if err != nil {
				return err
			}
			defer st.close(context.WithoutCancel(ctx))
			return replaySession(ctx, st, args[0], cmd.OutOrStdout())
		},
	}
}

func replaySession(ctx context.Context, st *stack, sessionID string, out io.Writer) error {
	kopts, budgets := st.kernelOptions()
	res, err := runlog.Replay(ctx, st.journal, sessionID, kopts, kernel.NewState(budgets, ""))
	if err != nil {
		return fmt.Errorf("replay %s: %w", sessionID, err)
	}
	if res.Records == 0 {
		return fmt.Errorf("no journal for session %s", sessionID)
	}
	for i, g := range res.Graphs {
		ids := make([]string, 0, g.Len())
		for _, id := range g.IDs() {
			ids = append(ids, id.String())
		}
		fmt.Fprintf(out, "batch %d: step %d intents [%s]\n", i+1, g.Step(), strings.Join(ids, " "))
	}
	fmt.Fprintf(out, "records: %d\nstep: %d\nhistory: %d messages\ndelegations: %d\nrejections: %d\n",
		res.Records, res.State.Step, len(res.State.History), res.State.Delegations, res.State.Rejections)

	info, err := st.store.LoadSession(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
	case err != nil:
		return err
	case info.Halt != nil:
		fmt.Fprintf(out, "status: %s (%s)\n", info.Status, info.Halt.String())
	default:
		fmt.Fprintf(out, "status: %s\n", info.Status)
	}
	return nil
}
