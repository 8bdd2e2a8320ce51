// Command agentkernel runs agent sessions from the command line.
//
// # Configuration
//
// Settings come from environment variables, optionally overridden by a YAML
// file passed with --config:
//
//	AGENTKERNEL_PROVIDER    - anthropic, bedrock or openai (default: "anthropic")
//	AGENTKERNEL_MODEL       - model identifier (default depends on the provider)
//	ANTHROPIC_API_KEY       - Anthropic credentials
//	OPENAI_API_KEY          - OpenAI credentials
//	AWS_REGION              - Bedrock region (default: "us-east-1")
//	AGENTKERNEL_TRANSPORT   - inmem or pulse (default: "inmem")
//	REDIS_URL               - Redis address for the pulse transport
//	AGENTKERNEL_JOURNAL     - inmem or mongo (default: "inmem")
//	MONGO_URI               - MongoDB URI for the mongo journal
//	AGENTKERNEL_TPM         - tokens per minute budget, zero disables limiting
//	AGENTKERNEL_BLOCK_TOOLS - comma separated tools hidden from the model
//	AGENTKERNEL_APPROVAL_TAGS - tool tags that require approval
//
// # Example
//
//	ANTHROPIC_API_KEY=... agentkernel run "summarize the open issues"
//	AGENTKERNEL_JOURNAL=mongo agentkernel replay 5f0c...
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

type globals struct {
	configPath string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var herr *haltError
		if !errors.As(err, &herr) {
			fmt.Fprintln(os.Stderr, "error:", err)
		} else {
			fmt.Fprintln(os.Stderr, herr.Error())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "agentkernel",
		Short:         "Deterministic agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logs")
	root.AddCommand(newRunCmd(g), newReplayCmd(g))
	return root
}

// setup loads the configuration and configures logging on ctx.
func (g *globals) setup(ctx context.Context) (context.Context, Config, error) {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format), log.WithOutput(os.Stderr))
	if g.debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return ctx, Config{}, err
	}
	return ctx, cfg, nil
}
