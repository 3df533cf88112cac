package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-relay/handler"
	"chat-relay/internal/config"
	"chat-relay/internal/integrations/llm"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/session"
	"chat-relay/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// ---- Configuration (read only here) ----
	registry, err := config.Load(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load provider config", "err", err)
		os.Exit(1)
	}
	stateTable := os.Getenv("STATE_TABLE")
	paramPrefix := os.Getenv("PARAM_PREFIX")

	needsAWS := stateTable != "" || paramPrefix != ""

	var store session.Store = session.NewMemoryStore()
	if needsAWS {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}

		if stateTable != "" {
			dynamoStore, err := session.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), stateTable)
			if err != nil {
				logger.Error("failed to create session store", "err", err)
				os.Exit(1)
			}
			store = dynamoStore
		}

		if paramPrefix != "" {
			registry = fillCredentials(ctx, logger, registry, awsssm.NewFromConfig(cfg), paramPrefix)
		}
	}

	// ---- Service ----
	client := llm.NewClient(llm.WithLogger(logger))
	chatService, err := usecase.NewChatService(registry, client, store, logger)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(chatService)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// fillCredentials fills missing provider credentials from SSM. A missing
// parameter is not fatal; the provider simply stays unconfigured and the
// user is prompted at submit time.
func fillCredentials(ctx context.Context, logger *slog.Logger, registry *config.Registry, api *awsssm.Client, prefix string) *config.Registry {
	ps, err := paramstore.New(api, prefix)
	if err != nil {
		logger.Error("failed to create paramstore client", "err", err)
		os.Exit(1)
	}

	for _, name := range registry.Names() {
		p, err := registry.Resolve(name)
		if err != nil || p.Credential != "" {
			continue
		}
		token, err := ps.ProviderToken(ctx, name)
		if err != nil {
			logger.Warn("no credential in parameter store", "provider", name, "err", err)
			continue
		}
		registry = registry.SetCredential(name, token)
	}
	return registry
}
