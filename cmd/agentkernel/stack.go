package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	goopenai "github.com/sashabaranov/go-openai"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/pulse/rmap"

	"goa.design/agentkernel/features/model/anthropic"
	"goa.design/agentkernel/features/model/bedrock"
	"goa.design/agentkernel/features/model/middleware"
	"goa.design/agentkernel/features/model/openai"
	"goa.design/agentkernel/features/policy/basic"
	runlogmongo "goa.design/agentkernel/features/runlog/mongo"
	clientsrunlog "goa.design/agentkernel/features/runlog/mongo/clients/mongo"
	sessionmongo "goa.design/agentkernel/features/session/mongo"
	clientssession "goa.design/agentkernel/features/session/mongo/clients/mongo"
	pulsetransport "goa.design/agentkernel/features/transport/pulse"
	clientspulse "goa.design/agentkernel/features/transport/pulse/clients/pulse"
	"goa.design/agentkernel/runtime/agent"
	"goa.design/agentkernel/runtime/agent/capability"
	"goa.design/agentkernel/runtime/agent/kernel"
	"goa.design/agentkernel/runtime/agent/retry"
	"goa.design/agentkernel/runtime/agent/runlog"
	runloginmem "goa.design/agentkernel/runtime/agent/runlog/inmem"
	"goa.design/agentkernel/runtime/agent/session"
	sessioninmem "goa.design/agentkernel/runtime/agent/session/inmem"
	"goa.design/agentkernel/runtime/agent/telemetry"
	"goa.design/agentkernel/runtime/agent/toolset"
	"goa.design/agentkernel/runtime/agent/transport"
	"goa.design/agentkernel/runtime/agent/transport/inmem"
	"goa.design/agentkernel/runtime/agent/worker"
)

const rateLimitMap = "agentkernel-ratelimit"

// stack holds the infrastructure shared by the commands.
type stack struct {
	cfg     Config
	logger  telemetry.Logger
	redis   *redis.Client
	mongo   *mongodriver.Client
	tools   *toolset.Registry
	policy  basic.Decision
	journal runlog.Store
	store   session.Store
}

// newStack connects the configured backends, registers the built-in tools
// and applies the tool policy.
func newStack(ctx context.Context, cfg Config, logger telemetry.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, tools: toolset.New()}
	if err := toolset.RegisterBuiltins(s.tools, nil); err != nil {
		return nil, err
	}
	engine, err := basic.New(basic.Options{
		AllowTools:   cfg.Policy.AllowTools,
		BlockTools:   cfg.Policy.BlockTools,
		AllowTags:    cfg.Policy.AllowTags,
		BlockTags:    cfg.Policy.BlockTags,
		ApprovalTags: cfg.Policy.ApprovalTags,
	})
	if err != nil {
		return nil, fmt.Errorf("tool policy: %w", err)
	}
	s.policy = engine.Decide(s.tools.Describe())
	if len(s.policy.Blocked) > 0 {
		logger.Info(ctx, "tools blocked by policy", "tools", strings.Join(s.policy.Blocked, ","))
	}
	if cfg.Transport == TransportPulse {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}
	switch cfg.Journal {
	case JournalMongo:
		if err := s.connectMongo(ctx); err != nil {
			s.close(ctx)
			return nil, err
		}
	default:
		s.journal = runloginmem.New()
		s.store = sessioninmem.New()
	}
	return s, nil
}

func (s *stack) connectMongo(ctx context.Context) error {
	client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(s.cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	s.mongo = client
	rc, err := clientsrunlog.New(ctx, clientsrunlog.Options{Client: client, Database: s.cfg.MongoDatabase})
	if err != nil {
		return err
	}
	if err := rc.Ping(ctx); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	if s.journal, err = runlogmongo.NewStore(rc); err != nil {
		return err
	}
	sc, err := clientssession.New(clientssession.Options{Client: client, Database: s.cfg.MongoDatabase})
	if err != nil {
		return err
	}
	s.store, err = sessionmongo.NewStore(sc)
	return err
}

func (s *stack) close(ctx context.Context) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn(ctx, "close redis", "err", err)
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Disconnect(ctx); err != nil {
			s.logger.Warn(ctx, "close mongo", "err", err)
		}
	}
}

// kernelOptions returns the options of the top level kernel. Replays must use
// the same configuration as the original run.
func (s *stack) kernelOptions() (kernel.Options, kernel.Budgets) {
	specs := slices.Clone(s.policy.Tools)
	if s.cfg.DelegateTool != "" {
		specs = append(specs, worker.DelegateSpec(s.cfg.DelegateTool))
	}
	approvals := slices.Clone(s.cfg.RequireApproval)
	for _, name := range s.policy.RequireApproval {
		if !slices.Contains(approvals, name) {
			approvals = append(approvals, name)
		}
	}
	opts := kernel.Options{
		System:          s.cfg.System,
		Tools:           specs,
		Model:           s.cfg.Model,
		MaxTokens:       s.cfg.MaxTokens,
		RequireApproval: approvals,
		DelegateTool:    s.cfg.DelegateTool,
		MaxHistory:      s.cfg.MaxHistory,
	}
	budgets := kernel.Budgets{
		MaxSteps:       s.cfg.MaxSteps,
		MaxDelegations: s.cfg.MaxDelegations,
		MaxRejections:  s.cfg.MaxRejections,
	}
	return opts, budgets
}

// llm builds the configured provider wrapped in the rate limiter and the
// retry policy.
func (s *stack) llm(ctx context.Context) (capability.LLM, error) {
	var (
		llm capability.LLM
		err error
	)
	switch s.cfg.Provider {
	case ProviderAnthropic:
		if s.cfg.APIKey == "" {
			return nil, errors.New("anthropic api key is required (ANTHROPIC_API_KEY)")
		}
		ac := sdk.NewClient(option.WithAPIKey(s.cfg.APIKey))
		llm, err = anthropic.New(&ac.Messages, anthropic.Options{DefaultModel: s.cfg.Model, MaxTokens: s.cfg.MaxTokens})
	case ProviderBedrock:
		rt := bedrockruntime.New(bedrockruntime.Options{
			Region:      s.cfg.AWSRegion,
			Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
		})
		llm, err = bedrock.New(bedrock.Options{Runtime: rt, Model: s.cfg.Model, MaxTokens: s.cfg.MaxTokens})
	case ProviderOpenAI:
		if s.cfg.APIKey == "" {
			return nil, errors.New("openai api key is required (OPENAI_API_KEY)")
		}
		oc := goopenai.DefaultConfig(s.cfg.APIKey)
		if s.cfg.BaseURL != "" {
			oc.BaseURL = s.cfg.BaseURL
		}
		llm, err = openai.New(openai.Options{Client: goopenai.NewClientWithConfig(oc), DefaultModel: s.cfg.Model, MaxTokens: s.cfg.MaxTokens})
	default:
		err = fmt.Errorf("unknown provider %q", s.cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.TokensPerMinute > 0 {
		opts := middleware.Options{InitialTPM: s.cfg.TokensPerMinute, MaxTPM: 2 * s.cfg.TokensPerMinute}
		if s.redis != nil {
			m, err := rmap.Join(ctx, rateLimitMap, s.redis)
			if err != nil {
				return nil, fmt.Errorf("join rate limit map: %w", err)
			}
			opts.Map = m
			opts.Key = s.cfg.Provider + ":" + s.cfg.Model
		}
		llm = middleware.NewLimiter(ctx, opts).Wrap(llm)
	}

	cfg := retry.DefaultConfig()
	if s.cfg.Retry.MaxAttempts > 0 {
		cfg.MaxAttempts = s.cfg.Retry.MaxAttempts
	}
	if s.cfg.Retry.InitialBackoff > 0 {
		cfg.InitialBackoff = s.cfg.Retry.InitialBackoff
	}
	if s.cfg.Retry.MaxBackoff > 0 {
		cfg.MaxBackoff = s.cfg.Retry.MaxBackoff
	}
	return retry.WrapLLM(llm, cfg, retry.WithLogger(s.logger), retry.WithName(s.cfg.Provider)), nil
}

// transport opens the session transport.
func (s *stack) transport(ctx context.Context, sessionID string) (transport.Transport, error) {
	if s.cfg.Transport != TransportPulse {
		return inmem.New(sessionID), nil
	}
	pc, err := clientspulse.New(clientspulse.Options{Redis: s.redis})
	if err != nil {
		return nil, err
	}
	return pulsetransport.New(ctx, pulsetransport.Options{Client: pc, SessionID: sessionID, Logger: s.logger})
}

// toolCapability returns the toolset guarded by the tool policy.
func (s *stack) toolCapability() capability.Tool {
	return basic.Guard(s.tools, s.policy)
}

// spawner builds the worker capability for sessionID.
func (s *stack) spawner(sessionID string, llm capability.LLM, tel capability.Telemetry) (*worker.Spawner, error) {
	kopts, _ := s.kernelOptions()
	kopts.Tools = nil
	kopts.MaxHistory = s.cfg.Worker.MaxHistory
	return worker.NewSpawner(worker.Options{
		SessionID:   sessionID,
		LLM:         llm,
		Tools:       s.toolCapability(),
		ToolSpecs:   s.policy.Tools,
		Kernel:      kopts,
		Budgets:     kernel.Budgets{MaxSteps: s.cfg.Worker.MaxSteps, MaxRejections: 1},
		StallAfter:  s.cfg.Worker.StallAfter,
		Telemetry:   tel,
		MaxInFlight: s.cfg.MaxInFlight,
		Logger:      s.logger,
	})
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}

// haltError reports a session that did not complete.
type haltError struct {
	reason agent.HaltReason
}

func (e *haltError) Error() string { return "session halted: " + e.reason.String() }
