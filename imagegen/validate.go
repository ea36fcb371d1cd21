package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/storyboard/types"
)

// ValidateConfig issues a minimal provider-appropriate probe request and
// reports whether the endpoint looks like a real API. The check is
// deliberately lenient: 401/403/429/400/422 all mean "endpoint reachable,
// config plausible" — a wrong key still proves the URL speaks JSON. Only
// network-level unreachability or an HTML page (usually documentation
// pasted in place of the API URL) is a hard failure.
func (c *Client) ValidateConfig(ctx context.Context, cfg ProviderConfig) error {
	endpoint, err := parseAbsoluteURL(cfg.Endpoint)
	if err != nil {
		return err
	}
	provider := cfg.ResolveProvider()

	built, err := probeRequest(provider, endpoint.String(), cfg)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, built.URL, bytes.NewReader(built.Body))
	if err != nil {
		return types.NewErrorf(types.ErrInvalidEndpoint, "接口地址无效: %v", err)
	}
	httpReq.Header = built.Header

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.NewErrorf(types.ErrNetwork, "接口不可达: %v", err).
			WithCause(err).WithProvider(string(provider))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") || looksLikeHTML(raw) {
		return htmlError(raw, provider)
	}

	c.logger.Debug("config probe answered",
		zap.String("provider", string(provider)),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// probeRequest builds the cheapest request each protocol will accept
// syntactically. The goal is a JSON answer, not a generated image.
func probeRequest(provider Provider, endpoint string, cfg ProviderConfig) (*builtRequest, error) {
	switch provider {
	case ProviderGemini:
		body, err := json.Marshal(geminiRequest{
			Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}},
		})
		if err != nil {
			return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
		}
		u, perr := parseAbsoluteURL(endpoint)
		if perr != nil {
			return nil, perr
		}
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		return &builtRequest{URL: u.String(), Header: h, Body: body}, nil

	case ProviderAsyncTask:
		body, err := json.Marshal(asyncTaskRequest{Model: cfg.Model, Prompt: "ping", URLs: []string{}})
		if err != nil {
			return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
		}
		return &builtRequest{URL: endpoint, Header: bearerHeader(cfg.APIKey), Body: body}, nil

	default:
		body, err := json.Marshal(map[string]any{"model": cfg.Model, "prompt": "ping", "n": 1})
		if err != nil {
			return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
		}
		return &builtRequest{URL: endpoint, Header: bearerHeader(cfg.APIKey), Body: body}, nil
	}
}
