package main

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// lambdaHandler adapts API Gateway HTTP API (payload v2) events onto the
// router. Buffered metrics are flushed before each response because the
// execution environment may be frozen as soon as the handler returns.
func lambdaHandler(a *app) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter := httpadapter.NewV2(a.srv.Handler())
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		a.flush(ctx)
		return resp, err
	}
}

// runLambda blocks for the lifetime of the execution environment.
func runLambda(a *app, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	lambda.StartWithOptions(lambdaHandler(a),
		lambda.WithEnableSIGTERM(func() {
			if err := a.srv.Shutdown(context.Background()); err != nil {
				logger.Error("shutdown error", "error", err)
			}
		}),
	)
	return nil
}
