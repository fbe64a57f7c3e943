package llm

import (
	"context"
	"errors"

	"github.com/azentyk/voice-appointments/pkg/logging"
)

// FallbackClient wraps a primary model client with a fallback provider.
// If the primary fails, the request is retried once on the fallback.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient creates a fallback-enabled client. A nil fallback makes it
// a pass-through to primary.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: primary client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

var _ StructuredClient = (*FallbackClient)(nil)

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	return c.run(ctx, func(client Client) (Response, error) {
		return client.Complete(ctx, req)
	})
}

// CompleteJSON uses schema-constrained output on whichever provider supports
// it, and plain completion otherwise.
func (c *FallbackClient) CompleteJSON(ctx context.Context, req Request, schema *Schema) (Response, error) {
	return c.run(ctx, func(client Client) (Response, error) {
		if structured, ok := client.(StructuredClient); ok {
			return structured.CompleteJSON(ctx, req, schema)
		}
		return client.Complete(ctx, req)
	})
}

func (c *FallbackClient) run(ctx context.Context, call func(Client) (Response, error)) (Response, error) {
	resp, err := call(c.primary)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Response{}, err
	}

	c.logger.Warn("primary model failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return Response{}, err
	}

	resp, fallbackErr := call(c.fallback)
	if fallbackErr != nil {
		c.logger.Error("fallback model also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	c.logger.Info("fallback model succeeded after primary failure")
	return resp, nil
}
