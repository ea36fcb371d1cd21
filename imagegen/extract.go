package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/BaSui01/storyboard/types"
)

// maxResponseBytes bounds how much of a provider response we buffer.
const maxResponseBytes = 64 << 20

// outcome is the tri-state result of one HTTP attempt: either a finished
// image or a pending task handed off to the poller.
type outcome struct {
	result *GenerationResult
	task   *pendingTask
}

// pendingTask identifies a submitted asynchronous job.
type pendingTask struct {
	ID      string
	PollURL string
}

// extractor turns a raw HTTP response into a generated image or a typed
// error. Heterogeneous response shapes are handled as an ordered list of
// (predicate, extractor) pairs so a new provider shape is an additive
// change.
type extractor struct {
	norm   *Normalizer
	stream *streamReader
	logger *zap.Logger
}

func newExtractor(norm *Normalizer, stream *streamReader, logger *zap.Logger) *extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &extractor{norm: norm, stream: stream, logger: logger}
}

// Extract consumes resp.Body. The caller keeps ownership of closing it.
func (e *extractor) Extract(ctx context.Context, provider Provider, cfg ProviderConfig, resp *http.Response) (*outcome, error) {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))

	if strings.HasPrefix(contentType, "text/event-stream") {
		raw, doc, err := e.stream.Read(ctx, resp.Body)
		if err != nil {
			return nil, err
		}
		return e.fromDocument(ctx, provider, cfg, raw, doc)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, types.NewErrorf(types.ErrNetwork, "读取响应失败: %v", err).
			WithRetryable(true).WithProvider(string(provider))
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, bodyMessage(raw), provider)
	}

	// A documentation page instead of an API is the single most common
	// misconfiguration; surface it with the page title when we can.
	if strings.Contains(contentType, "text/html") || looksLikeHTML(raw) {
		return nil, htmlError(raw, provider)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewErrorf(types.ErrMalformedResponse,
			"无法解析接口响应: %s", preview(raw)).
			WithRetryable(true).WithProvider(string(provider))
	}

	return e.fromDocument(ctx, provider, cfg, raw, doc)
}

// fromDocument routes on an explicit status field first, then walks the
// shape-extraction pipeline.
func (e *extractor) fromDocument(ctx context.Context, provider Provider, cfg ProviderConfig, raw []byte, doc map[string]any) (*outcome, error) {
	if status := statusOf(doc); status != "" {
		switch {
		case isPendingStatus(status):
			task := &pendingTask{ID: taskIDOf(doc), PollURL: pollURLOf(doc)}
			e.logger.Debug("provider returned pending task",
				zap.String("task_id", task.ID),
				zap.String("status", status),
			)
			return &outcome{task: task}, nil

		case isFailureStatus(status):
			return nil, classifyProviderFailure(errorMessageOf(doc), provider).
				WithTaskID(taskIDOf(doc))
		}
		// Success statuses fall through into extraction.
	}

	// Task-submission backends may answer with nothing but a task id.
	if provider == ProviderAsyncTask && !isSuccessStatus(statusOf(doc)) {
		if id := taskIDOf(doc); id != "" {
			return &outcome{task: &pendingTask{ID: id, PollURL: pollURLOf(doc)}}, nil
		}
	}

	for _, se := range shapeExtractors {
		candidate, ok := se.fn(raw, doc)
		if !ok {
			continue
		}
		e.logger.Debug("image extracted", zap.String("shape", se.name))
		result, err := e.resolveImage(ctx, candidate, cfg.Model)
		if err != nil {
			return nil, err
		}
		return &outcome{result: result}, nil
	}

	return nil, types.NewErrorf(types.ErrMalformedResponse,
		"响应中没有找到生成的图片: %s", preview(raw)).
		WithRetryable(true).WithProvider(string(provider))
}

// resolveImage guarantees the caller always receives a self-contained data
// URI, downloading and re-encoding remote results when necessary.
func (e *extractor) resolveImage(ctx context.Context, candidate, model string) (*GenerationResult, error) {
	if types.IsDataURI(candidate) {
		return &GenerationResult{Image: types.DataURI(candidate), Model: model}, nil
	}
	uri, err := e.norm.fetch(ctx, candidate)
	if err != nil {
		return nil, err
	}
	return &GenerationResult{Image: uri, Model: model}, nil
}

// Shape-extraction pipeline, in fixed priority order. Each entry inspects
// the parsed document (and the raw bytes for the last-resort scan) and
// returns a data URI or an image URL.
type shapeExtractor struct {
	name string
	fn   func(raw []byte, doc map[string]any) (string, bool)
}

var shapeExtractors = []shapeExtractor{
	{"gemini-inline-data", extractGeminiInline},
	{"openai-data-array", extractOpenAIData},
	{"generic-fields", extractGenericFields},
	{"raw-scan", extractRawScan},
}

type geminiExtractResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func extractGeminiInline(raw []byte, _ map[string]any) (string, bool) {
	var gr geminiExtractResponse
	if err := json.Unmarshal(raw, &gr); err != nil || len(gr.Candidates) == 0 {
		return "", false
	}
	for _, part := range gr.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		mimeType := part.InlineData.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return fmt.Sprintf("data:%s;base64,%s", mimeType, part.InlineData.Data), true
	}
	return "", false
}

func extractOpenAIData(_ []byte, doc map[string]any) (string, bool) {
	items, ok := doc["data"].([]any)
	if !ok || len(items) == 0 {
		return "", false
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return "", false
	}
	if u, ok := first["url"].(string); ok && u != "" {
		return u, true
	}
	if b64, ok := first["b64_json"].(string); ok && b64 != "" {
		return "data:image/png;base64," + b64, true
	}
	return "", false
}

func extractGenericFields(_ []byte, doc map[string]any) (string, bool) {
	paths := [][]string{
		{"images"},
		{"results"},
		{"result", "image"},
		{"result", "images"},
		{"data", "resultJson"},
		{"resultJson"},
		{"image"},
		{"url"},
		{"data"},
	}
	for _, path := range paths {
		if s, ok := imageStringAt(doc, path); ok {
			return s, true
		}
	}
	return "", false
}

// imageStringAt walks a path into the document and coerces what it finds
// into a single image string. Arrays yield their first usable element;
// resultJson fields carry a nested JSON document with resultUrls.
func imageStringAt(doc map[string]any, path []string) (string, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}
	return coerceImageString(cur, path[len(path)-1])
}

func coerceImageString(v any, lastKey string) (string, bool) {
	switch val := v.(type) {
	case string:
		if lastKey == "resultJson" {
			var nested struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(val), &nested); err == nil && len(nested.ResultURLs) > 0 {
				return nested.ResultURLs[0], true
			}
			return "", false
		}
		if usableImageString(val) {
			return val, true
		}
		if looksLikeBase64Image(val) {
			return "data:image/png;base64," + val, true
		}
	case []any:
		if len(val) > 0 {
			return coerceImageString(val[0], "")
		}
	case map[string]any:
		for _, key := range []string{"url", "b64_json", "image", "base64"} {
			if s, ok := val[key].(string); ok && usableImageString(s) {
				return s, true
			}
		}
	}
	return "", false
}

// usableImageString filters out status words and other short junk that
// happens to live under image-ish keys.
func usableImageString(s string) bool {
	return types.IsDataURI(s) || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

var bareBase64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// looksLikeBase64Image recognizes a bare base64 payload under an image key.
// The length floor keeps status words and short tokens out.
func looksLikeBase64Image(s string) bool {
	return len(s) >= 256 && bareBase64Pattern.MatchString(s)
}

var (
	dataURIScan = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/]+={0,2}`)
	imageURLScan = regexp.MustCompile(`https?://[^\s"'\\]+\.(?:png|jpe?g|webp|gif)(?:\?[^\s"'\\]*)?`)
)

// extractRawScan is the last resort: scan the serialized response for a
// base64 image literal or an image-extension URL.
func extractRawScan(raw []byte, _ map[string]any) (string, bool) {
	if m := dataURIScan.Find(raw); m != nil {
		return string(m), true
	}
	if m := imageURLScan.Find(raw); m != nil {
		return string(m), true
	}
	return "", false
}

// mapHTTPError classifies a non-2xx status into the error taxonomy.
func mapHTTPError(status int, msg string, provider Provider) *types.Error {
	p := string(provider)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg == "" {
			msg = "API Key 无效或无权限"
		}
		return types.NewError(types.ErrAuth, msg).WithHTTPStatus(status).WithProvider(p)
	case http.StatusTooManyRequests:
		if msg == "" {
			msg = "请求过于频繁，已被限流"
		}
		return types.NewError(types.ErrRateLimited, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(p)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return classifyProviderFailure(msg, provider).WithHTTPStatus(status)
	default:
		if msg == "" {
			msg = fmt.Sprintf("接口返回 HTTP %d", status)
		}
		return types.NewError(types.ErrNetwork, msg).
			WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(p)
	}
}

var moderationKeywords = []string{
	"safety", "moderation", "content policy", "content_policy", "blocked",
	"prohibited", "nsfw", "敏感", "违规", "安全策略", "审核",
}

// classifyProviderFailure maps an explicit provider failure message into
// the taxonomy, recognizing content-policy rejections so the UI can suggest
// editing the prompt or reference images.
func classifyProviderFailure(msg string, provider Provider) *types.Error {
	lower := strings.ToLower(msg)
	for _, kw := range moderationKeywords {
		if strings.Contains(lower, kw) {
			return types.NewErrorf(types.ErrModerationRejected,
				"内容被安全策略拦截，请调整提示词或参考图（%s）", msg).
				WithProvider(string(provider))
		}
	}
	if msg == "" {
		msg = "生成失败，接口未提供原因"
	}
	return types.NewError(types.ErrInvalidInput, msg).WithProvider(string(provider))
}

// Document helpers. Providers disagree on field names; check the common
// spellings in a fixed order.

func statusOf(doc map[string]any) string {
	for _, key := range []string{"status", "state", "task_status", "taskStatus"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := doc["data"].(map[string]any); ok {
		for _, key := range []string{"status", "state"} {
			if s, ok := data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func taskIDOf(doc map[string]any) string {
	for _, key := range []string{"taskId", "task_id", "requestId", "request_id", "id"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := doc["data"].(map[string]any); ok {
		for _, key := range []string{"taskId", "task_id", "id"} {
			if s, ok := data[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func pollURLOf(doc map[string]any) string {
	for _, key := range []string{"pollingUrl", "polling_url", "pollUrl", "poll_url"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func errorMessageOf(doc map[string]any) string {
	for _, key := range []string{"failMsg", "fail_msg", "failReason", "fail_reason", "message", "msg", "detail"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	switch v := doc["error"].(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["message"].(string); ok {
			return s
		}
	}
	if data, ok := doc["data"].(map[string]any); ok {
		return errorMessageOf(data)
	}
	return ""
}

// bodyMessage pulls a display-worthy message out of an error body.
func bodyMessage(raw []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return preview(raw)
	}
	if msg := errorMessageOf(doc); msg != "" {
		return msg
	}
	return preview(raw)
}

func looksLikeHTML(raw []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(raw))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// htmlError builds the misconfigured-endpoint error, pulling the page
// <title> when one exists so the operator can see what the URL really is.
func htmlError(raw []byte, provider Provider) *types.Error {
	msg := "接口返回了 HTML 页面，地址可能指向文档而不是 API"
	if title := htmlTitle(raw); title != "" {
		msg = fmt.Sprintf("%s（页面标题：%s）", msg, title)
	}
	return types.NewError(types.ErrMalformedResponse, msg).
		WithRetryable(true).WithProvider(string(provider))
}

func htmlTitle(raw []byte) string {
	node, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return title
}

// previewLen bounds the diagnostic snippet embedded in malformed-response
// messages.
const previewLen = 200

func preview(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > previewLen {
		return s[:previewLen] + "…"
	}
	return s
}
