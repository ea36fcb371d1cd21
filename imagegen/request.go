package imagegen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/BaSui01/storyboard/types"
)

// normalizedImages carries the per-call images after normalization.
// Ordering is fixed: storyboard first, then role, then scene — the order
// encodes meaning to the provider and must never be permuted.
type normalizedImages struct {
	Storyboard types.DataURI
	Role       types.DataURI
	Scene      types.DataURI
}

// ordered returns the non-empty images in wire order.
func (n normalizedImages) ordered() []types.DataURI {
	out := []types.DataURI{n.Storyboard}
	if n.Role != "" {
		out = append(out, n.Role)
	}
	if n.Scene != "" {
		out = append(out, n.Scene)
	}
	return out
}

// builtRequest is the exact HTTP call to issue for one attempt.
type builtRequest struct {
	URL     string
	Header  http.Header
	Body    []byte
}

// Gemini wire format
type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// Async-task wire format (task submission + polling backends)
type asyncTaskRequest struct {
	Model          string   `json:"model,omitempty"`
	Prompt         string   `json:"prompt"`
	ImageSize      string   `json:"imageSize,omitempty"`
	AspectRatio    string   `json:"aspectRatio,omitempty"`
	URLs           []string `json:"urls"`
	NegativePrompt string   `json:"negativePrompt,omitempty"`
}

// Generic OpenAI-style wire format
type genericRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Image          string `json:"image"`
	ReferenceImage string `json:"reference_image,omitempty"`
	SceneImage     string `json:"scene_image,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// buildRequest assembles url, headers and body for one provider protocol.
// The request is never mutated; an endpoint that does not parse as an
// absolute URL fails with INVALID_ENDPOINT.
func buildRequest(provider Provider, req *GenerationRequest, imgs normalizedImages, cfg ProviderConfig) (*builtRequest, error) {
	endpoint, err := parseAbsoluteURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	switch provider {
	case ProviderGemini:
		return buildGeminiRequest(endpoint, req, imgs, cfg)
	case ProviderAsyncTask:
		return buildAsyncTaskRequest(endpoint, req, imgs, cfg)
	default:
		return buildGenericRequest(endpoint, req, imgs, cfg)
	}
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, types.NewErrorf(types.ErrInvalidEndpoint, "接口地址无效: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.NewErrorf(types.ErrInvalidEndpoint, "接口地址必须是 http(s): %q", raw)
	}
	return u, nil
}

// buildGeminiRequest composes a generateContent body. The API key goes into
// the key query parameter, not a header.
func buildGeminiRequest(endpoint *url.URL, req *GenerationRequest, imgs normalizedImages, cfg ProviderConfig) (*builtRequest, error) {
	text := req.Prompt
	if req.NegativePrompt != "" {
		// Gemini has no dedicated negative-prompt field; express it as a
		// natural-language constraint line.
		text += "\n避免：" + req.NegativePrompt
	}
	if req.AspectRatio != "" {
		text += "\n画面比例：" + req.AspectRatio
	}

	parts := []geminiPart{{Text: text}}
	for _, img := range imgs.ordered() {
		mimeType, payload, err := splitDataURI(img)
		if err != nil {
			return nil, types.NewErrorf(types.ErrInvalidInput, "图片编码无效: %v", err)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mimeType,
			Data:     payload,
		}})
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	})
	if err != nil {
		return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
	}

	u := *endpoint
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &builtRequest{URL: u.String(), Header: h, Body: body}, nil
}

func buildAsyncTaskRequest(endpoint *url.URL, req *GenerationRequest, imgs normalizedImages, cfg ProviderConfig) (*builtRequest, error) {
	urls := make([]string, 0, 3)
	for _, img := range imgs.ordered() {
		urls = append(urls, img.String())
	}

	body, err := json.Marshal(asyncTaskRequest{
		Model:          cfg.Model,
		Prompt:         req.Prompt,
		ImageSize:      pixelSize(req.AspectRatio),
		AspectRatio:    req.AspectRatio,
		URLs:           urls,
		NegativePrompt: req.NegativePrompt,
	})
	if err != nil {
		return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
	}

	return &builtRequest{URL: endpoint.String(), Header: bearerHeader(cfg.APIKey), Body: body}, nil
}

func buildGenericRequest(endpoint *url.URL, req *GenerationRequest, imgs normalizedImages, cfg ProviderConfig) (*builtRequest, error) {
	gr := genericRequest{
		Model:          cfg.Model,
		Prompt:         req.Prompt,
		N:              1,
		Image:          imgs.Storyboard.String(),
		NegativePrompt: req.NegativePrompt,
	}
	if imgs.Role != "" {
		gr.ReferenceImage = imgs.Role.String()
	}
	if imgs.Scene != "" {
		gr.SceneImage = imgs.Scene.String()
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return nil, types.NewErrorf(types.ErrInvalidInput, "请求编码失败: %v", err)
	}

	return &builtRequest{URL: endpoint.String(), Header: bearerHeader(cfg.APIKey), Body: body}, nil
}

// splitDataURI returns the mime type and the base64 payload as-is, without
// a decode/re-encode round trip.
func splitDataURI(uri types.DataURI) (mimeType, payload string, err error) {
	s := uri.String()
	if !types.IsDataURI(s) {
		return "", "", fmt.Errorf("not a base64 data URI")
	}
	mimeType = s[len("data:"):strings.Index(s, ";")]
	return mimeType, s[strings.Index(s, ",")+1:], nil
}

func bearerHeader(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	return h
}

// pixelSizeBase is the target for the larger image dimension.
const pixelSizeBase = 1024

// pixelSize derives a "<w>x<h>" pixel size from a "W:H" aspect ratio by
// fitting the larger dimension to the base and rounding both down to the
// nearest multiple of 8 (a common provider constraint).
func pixelSize(aspectRatio string) string {
	w, h, ok := parseAspectRatio(aspectRatio)
	if !ok {
		return fmt.Sprintf("%dx%d", pixelSizeBase, pixelSizeBase)
	}

	var pw, ph int
	if w >= h {
		pw = pixelSizeBase
		ph = pixelSizeBase * h / w
	} else {
		ph = pixelSizeBase
		pw = pixelSizeBase * w / h
	}
	pw -= pw % 8
	ph -= ph % 8
	return fmt.Sprintf("%dx%d", pw, ph)
}

func parseAspectRatio(s string) (w, h int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
