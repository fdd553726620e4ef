package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmdatafocus/pathway_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultProviderTimeout = 15 * time.Second
	maxResponseBytes       = 1 << 20
)

var tracer = otel.Tracer("github.com/mmdatafocus/pathway_backend/payments")

// errProviderNotFound marks a 404 from the provider API.
var errProviderNotFound = errors.New("provider resource not found")

type apiClient struct {
	provider string
	baseURL  string
	headers  map[string]string
	http     *http.Client
}

func newAPIClient(provider, baseURL string, timeout time.Duration, headers map[string]string) *apiClient {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &apiClient{
		provider: provider,
		baseURL:  baseURL,
		headers:  headers,
		http:     &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes a 2xx body into out.
// Transport failures, timeouts and 5xx map to UpstreamError, rejected credentials to ConfigurationError.
func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, c.provider+" "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payment.provider", c.provider),
			attribute.String("http.method", method),
		))
	defer span.End()

	err := c.send(ctx, span, method, path, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, utils.PublicMessage(err))
	}
	return err
}

func (c *apiClient) send(ctx context.Context, span trace.Span, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return utils.NewConfigurationError("payment provider is misconfigured", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return utils.NewUpstreamError("payment provider is unavailable", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return utils.NewUpstreamError("payment provider is unavailable", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return utils.NewConfigurationError("payment provider rejected the configured credentials",
			fmt.Errorf("%s returned %d", c.provider, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return errProviderNotFound
	case resp.StatusCode >= 300:
		return utils.NewUpstreamError("payment provider request failed",
			fmt.Errorf("%s returned %d: %s", c.provider, resp.StatusCode, truncate(raw, 200)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return utils.NewUpstreamError("payment provider returned an unreadable response", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
