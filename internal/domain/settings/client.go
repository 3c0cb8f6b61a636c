package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// HTTPClient reads and writes the coordinator's settings endpoint.
type HTTPClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a client for the coordinator at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("User-Agent", "GazeTech-Agent/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	return &HTTPClient{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// Get implements Reader.
func (c *HTTPClient) Get(ctx context.Context, keys ...string) (Values, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		req.SetQueryParam("keys", strings.Join(keys, ","))
	}

	var out Values
	resp, err := req.SetResult(&out).Get("/settings")
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get settings: %s", resp.Status())
	}
	return out, nil
}

// Set implements Store.
func (c *HTTPClient) Set(ctx context.Context, partial Values) (Values, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var out Values
	resp, err := req.SetBody(partial).SetResult(&out).Put("/settings")
	if err != nil {
		return nil, fmt.Errorf("set settings: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("set settings: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return out, nil
}

func (c *HTTPClient) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}
