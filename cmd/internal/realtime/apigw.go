package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"

	"murmur/cmd/internal/chat"
)

// APIGatewayConfig configures the API Gateway management API transport.
type APIGatewayConfig struct {
	// Endpoint is the connection management URL of the websocket API stage,
	// e.g. https://abc123.execute-api.eu-west-1.amazonaws.com/prod.
	Endpoint string
	Region   string

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// MaxAttempts bounds SDK retries per push (default: SDK default).
	MaxAttempts int
}

type postToConnectionAPI interface {
	PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// APIGatewayTransport pushes to connections held by an AWS API Gateway websocket API.
//
// Connection ids are the gateway's own ids, forwarded by the HTTP event dispatcher.
type APIGatewayTransport struct {
	client postToConnectionAPI
	log    *slog.Logger
}

// NewAPIGatewayTransport loads the AWS configuration and builds the management API client.
func NewAPIGatewayTransport(ctx context.Context, cfg APIGatewayConfig, log *slog.Logger) (*APIGatewayTransport, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("realtime: empty api gateway endpoint")
	}
	if log == nil {
		log = slog.Default()
	}

	loadOpts := []func(*awscfg.LoadOptions) error{}
	if r := strings.TrimSpace(cfg.Region); r != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(r))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.MaxAttempts > 0 {
		loadOpts = append(loadOpts, awscfg.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &APIGatewayTransport{client: client, log: log}, nil
}

// PushToConnection posts data to one gateway connection.
// A GoneException (HTTP 410) maps to chat.ErrConnectionGone.
func (t *APIGatewayTransport) PushToConnection(ctx context.Context, connectionID string, data []byte) error {
	if t == nil || t.client == nil {
		return chat.ErrNoTransport
	}

	_, err := t.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err == nil {
		return nil
	}

	var gone *types.GoneException
	if errors.As(err, &gone) {
		return fmt.Errorf("%w: %s", chat.ErrConnectionGone, connectionID)
	}
	t.log.Debug("apigw.post.fail", "connection_id", connectionID, "err", err)
	return fmt.Errorf("post to connection: %w", err)
}
