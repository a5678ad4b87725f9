package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"farm-advisory-agent/handler"
	"farm-advisory-agent/internal/fallback"
	"farm-advisory-agent/internal/integrations/openai"
	"farm-advisory-agent/internal/integrations/paramstore"
	"farm-advisory-agent/internal/repository"
	"farm-advisory-agent/internal/session"
	"farm-advisory-agent/internal/snapshot"
	"farm-advisory-agent/internal/usecase"
)

const defaultPersona = "You are an experienced agronomist helping a farmer. " +
	"Answer plainly, ground your advice in the farm context provided, and " +
	"say so when the data does not support a confident answer."

func main() {
	ctx := context.Background()
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	// ---- Configuration (read only here) ----
	advisoryTable := mustEnv(log, "ADVISORY_TABLE")
	paramPrefix := mustEnv(log, "PARAM_PREFIX")
	sessionWindow := envInt("SESSION_WINDOW", 20)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		log.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	repo, err := repository.New(awsdynamodb.NewFromConfig(cfg), advisoryTable)
	if err != nil {
		log.Error("failed to create repository client", "err", err)
		os.Exit(1)
	}
	assembler, err := snapshot.New(repo)
	if err != nil {
		log.Error("failed to create snapshot assembler", "err", err)
		os.Exit(1)
	}

	gatewayOpts := []openai.Option{}
	if model := paramOrDefault(ctx, log, params, paramPrefix+"/provider-model", ""); model != "" {
		gatewayOpts = append(gatewayOpts, openai.WithModel(model))
	}
	gateway, err := openai.NewClient(params, paramPrefix, gatewayOpts...)
	if err != nil {
		log.Error("failed to create provider gateway", "err", err)
		os.Exit(1)
	}

	persona := paramOrDefault(ctx, log, params, paramPrefix+"/persona-prompt", defaultPersona)
	sessions, err := session.NewStore(persona, session.WithWindow(sessionWindow))
	if err != nil {
		log.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	advisor, err := usecase.NewAdvisor(assembler, gateway, fallback.NewComposer(), sessions, repo, log)
	if err != nil {
		log.Error("failed to create advisor", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(advisor)
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// paramOrDefault reads an optional parameter, tolerating absence.
func paramOrDefault(ctx context.Context, log *slog.Logger, params *paramstore.Client, name, def string) string {
	v, err := params.GetParameter(ctx, name)
	if err != nil {
		var nf *paramstore.NotFoundError
		if !errors.As(err, &nf) {
			log.Warn("failed to read optional parameter", "name", name, "err", err)
		}
		return def
	}
	return v
}

func mustEnv(log *slog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
