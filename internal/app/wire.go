package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"insurance-agent/internal/integrations/anthropic"
	"insurance-agent/internal/integrations/openai"
	"insurance-agent/internal/integrations/paramstore"
	"insurance-agent/internal/quote"
	"insurance-agent/internal/repository"
	"insurance-agent/internal/usecase"
)

// Services are the wired use cases plus the resources they own.
type Services struct {
	Chat   *usecase.ChatService
	Quotes *usecase.QuoteService

	closers []func() error
}

// Close releases connections opened by Build.
func (s *Services) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build constructs the store, the optional generator and both services.
func Build(ctx context.Context, cfg Config) (*Services, error) {
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	svc := &Services{}
	store, err := newStore(ctx, cfg, awsCfg, svc)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg, awsCfg)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	table := quote.Default()
	svc.Chat, err = usecase.NewChatService(store, gen, table, usecase.ChatConfig{
		CallTimeout:      cfg.LLMTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		MaxMessageLength: cfg.MaxMessageLength,
		HistoryContext:   cfg.HistoryContext,
	})
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("app: chat service: %w", err)
	}
	svc.Quotes, err = usecase.NewQuoteService(table)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("app: quote service: %w", err)
	}
	return svc, nil
}

func newStore(ctx context.Context, cfg Config, awsCfg aws.Config, svc *Services) (usecase.ConversationStore, error) {
	switch cfg.StoreDriver {
	case StoreDynamoDB:
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.IdleTimeout)
		if err != nil {
			return nil, fmt.Errorf("app: dynamodb store: %w", err)
		}
		return store, nil
	case StoreRedis:
		store, err := repository.NewRedisStore(ctx, repository.RedisConfig{
			Address:   cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       cfg.IdleTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis store: %w", err)
		}
		svc.closers = append(svc.closers, store.Close)
		return store, nil
	case StoreMemory:
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
}

// newGenerator returns a nil Generator when no provider is configured so the
// chat service runs on its deterministic replies.
func newGenerator(cfg Config, awsCfg aws.Config) (usecase.Generator, error) {
	if cfg.LLMProvider == ProviderNone {
		return nil, nil
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: paramstore: %w", err)
	}

	switch cfg.LLMProvider {
	case ProviderOpenAI:
		settings, err := paramstore.NewSettingsLoader(params, cfg.ParamPrefix, openai.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("app: llm settings: %w", err)
		}
		client, err := openai.NewClient(settings, openai.WithBaseURL(cfg.LLMBaseURL))
		if err != nil {
			return nil, fmt.Errorf("app: openai client: %w", err)
		}
		return client, nil
	case ProviderAnthropic:
		settings, err := paramstore.NewSettingsLoader(params, cfg.ParamPrefix, anthropic.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("app: llm settings: %w", err)
		}
		client, err := anthropic.NewClient(settings, anthropic.WithBaseURL(cfg.LLMBaseURL))
		if err != nil {
			return nil, fmt.Errorf("app: anthropic client: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("app: unknown LLM provider %q", cfg.LLMProvider)
}
