package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"evm-swap-bot/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://aggregator-api.kyberswap.com"

// Sentinel errors for the two remote phases. Callers select the fallback
// path with errors.Is rather than by inspecting response bodies.
var (
	ErrRouteNotFound = errors.New("aggregator: route not found")
	ErrBuildFailed   = errors.New("aggregator: route build failed")
	ErrEncodeFailed  = errors.New("aggregator: legacy encode failed")
)

// ClientInterface defines the aggregator operations used by the swap client.
type ClientInterface interface {
	GetRoute(ctx context.Context, params RouteParams) (*Route, error)
	BuildTx(ctx context.Context, route *Route, sender, recipient string, slippageBps int) (*BuiltTx, error)
	LegacyEncode(ctx context.Context, params EncodeParams) (*EncodedSwap, error)
}

// Client is a client for a KyberSwap-style swap-routing aggregator.
// It implements ClientInterface.
type Client struct {
	client    *resty.Client
	chainSlug string
	source    string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregator API client.
func NewClient(cfg *config.Aggregator, logger *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	client := resty.New().SetBaseURL(base)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:    client,
		chainSlug: cfg.ChainSlug,
		source:    cfg.Source,
		logger:    logger,
		limiter:   limiter,
	}
}

// RouteParams are the inputs for route resolution. AmountIn is in minor
// units (wei) as a decimal string.
type RouteParams struct {
	TokenIn           string
	TokenOut          string
	AmountIn          string
	SlippageBps       int
	OnlySinglePath    bool
	OnlyDirectPools   bool
	ExcludeRFQSources bool
}

// Route is a resolved swap route. The summary is passed back to the build
// endpoint verbatim, so it stays raw; only the fields we act on are parsed.
type Route struct {
	Summary       json.RawMessage
	RouterAddress string
	AmountOut     string
}

// BuiltTx is an executable transaction payload produced by the build phase.
type BuiltTx struct {
	RouterAddress    string
	Data             string
	TransactionValue string
	GasHint          uint64
}

// EncodeParams are the inputs for the legacy encode fallback.
type EncodeParams struct {
	TokenIn     string
	TokenOut    string
	AmountIn    string
	Recipient   string
	SlippageBps int
}

// EncodedSwap is the payload returned by the legacy encode endpoint.
type EncodedSwap struct {
	RouterAddress   string `json:"routerAddress"`
	EncodedSwapData string `json:"encodedSwapData"`
}

// routesResponse is the envelope of the modern routes endpoint. A non-zero
// code means no usable route regardless of HTTP status.
type routesResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RouteSummary  json.RawMessage `json:"routeSummary"`
		RouterAddress string          `json:"routerAddress"`
	} `json:"data"`
}

type buildResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RouterAddress    string `json:"routerAddress"`
		Data             string `json:"data"`
		TransactionValue string `json:"transactionValue"`
		Gas              string `json:"gas"`
	} `json:"data"`
}

// GetRoute resolves the best route for a swap.
func (c *Client) GetRoute(ctx context.Context, params RouteParams) (*Route, error) {
	var result routesResponse

	req := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetQueryParams(map[string]string{
			"tokenIn":           params.TokenIn,
			"tokenOut":          params.TokenOut,
			"amountIn":          params.AmountIn,
			"gasInclude":        "true",
			"slippageTolerance": strconv.Itoa(params.SlippageBps),
		})
	if params.OnlySinglePath {
		req.SetQueryParam("onlySinglePath", "true")
	}
	if params.OnlyDirectPools {
		req.SetQueryParam("onlyDirectPools", "true")
	}
	if params.ExcludeRFQSources {
		req.SetQueryParam("excludeRFQSources", "true")
	}

	_, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/%s/api/v1/routes", c.chainSlug), req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteNotFound, err)
	}
	if result.Code != 0 {
		// A 200 with a non-zero code is still a failure, never a usable route.
		return nil, fmt.Errorf("%w: code %d: %s", ErrRouteNotFound, result.Code, result.Message)
	}
	if len(result.Data.RouteSummary) == 0 {
		return nil, fmt.Errorf("%w: empty route summary", ErrRouteNotFound)
	}

	// amountOut lives inside the summary; parse just that field.
	var summary struct {
		AmountOut string `json:"amountOut"`
	}
	_ = json.Unmarshal(result.Data.RouteSummary, &summary)

	return &Route{
		Summary:       result.Data.RouteSummary,
		RouterAddress: result.Data.RouterAddress,
		AmountOut:     summary.AmountOut,
	}, nil
}

// BuildTx turns a resolved route into an executable transaction payload.
func (c *Client) BuildTx(ctx context.Context, route *Route, sender, recipient string, slippageBps int) (*BuiltTx, error) {
	var result buildResponse

	body := map[string]interface{}{
		"routeSummary":        route.Summary,
		"sender":              sender,
		"recipient":           recipient,
		"slippageTolerance":   slippageBps,
		"source":              c.source,
		"deadline":            time.Now().Add(20 * time.Minute).Unix(),
		"enableGasEstimation": true,
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&result)

	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/%s/api/v1/route/build", c.chainSlug), req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrBuildFailed, result.Code, result.Message)
	}
	if result.Data.Data == "" {
		return nil, fmt.Errorf("%w: empty calldata", ErrBuildFailed)
	}

	var gasHint uint64
	if result.Data.Gas != "" {
		gasHint, _ = strconv.ParseUint(result.Data.Gas, 10, 64)
	}

	return &BuiltTx{
		RouterAddress:    result.Data.RouterAddress,
		Data:             result.Data.Data,
		TransactionValue: result.Data.TransactionValue,
		GasHint:          gasHint,
	}, nil
}

// LegacyEncode is the lower-throughput fallback encoding path, used when the
// modern route/build sequence fails.
func (c *Client) LegacyEncode(ctx context.Context, params EncodeParams) (*EncodedSwap, error) {
	var result EncodedSwap

	req := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetQueryParams(map[string]string{
			"tokenIn":           params.TokenIn,
			"tokenOut":          params.TokenOut,
			"amountIn":          params.AmountIn,
			"to":                params.Recipient,
			"slippageTolerance": strconv.Itoa(params.SlippageBps),
			"clientData":        fmt.Sprintf(`{"source":%q}`, c.source),
		})

	_, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/%s/route/encode", c.chainSlug), req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if result.EncodedSwapData == "" || result.RouterAddress == "" {
		return nil, fmt.Errorf("%w: incomplete response", ErrEncodeFailed)
	}

	return &result, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
