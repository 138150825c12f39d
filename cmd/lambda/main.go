package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/yourorg/listings-proxy/internal/app"
	"github.com/yourorg/listings-proxy/internal/config"
	"github.com/yourorg/listings-proxy/internal/logger"
)

type proxyFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logger.Setup(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}

	a, err := app.New(context.Background(), lambdaConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct proxy")
	}

	var handler proxyFunc = httpadapter.New(a.Handler).ProxyWithContext
	lambda.StartWithOptions(handler, lambda.WithEnableSIGTERM(a.Close))
}

// lambdaConfig turns off the snapshot archive. Its workers run after the
// response is sent, and the runtime freezes the process between invocations.
func lambdaConfig(cfg config.Config) config.Config {
	if cfg.PostgresDSN != "" {
		log.Warn().Msg("snapshot archive is not supported on Lambda; PG_DSN ignored")
		cfg.PostgresDSN = ""
	}
	return cfg
}
