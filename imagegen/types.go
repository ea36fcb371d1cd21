package imagegen

import (
	"strings"
	"time"

	"github.com/BaSui01/storyboard/types"
)

// Provider identifies one of the wire-protocol shapes a backend may speak.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAsyncTask Provider = "async_task"
	ProviderGeneric   Provider = "generic"
)

// ProviderConfig carries everything needed to reach one backend. It is
// supplied fresh by the caller on every call and never mutated.
type ProviderConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`

	// Provider, when set, overrides URL-based detection.
	Provider Provider `json:"provider,omitempty" yaml:"provider,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ResolveProvider returns the explicit provider override when present,
// otherwise classifies the endpoint URL.
func (c ProviderConfig) ResolveProvider() Provider {
	if c.Provider != "" {
		return c.Provider
	}
	return ClassifyProvider(c.Endpoint)
}

// GenerationRequest describes one storyboard frame to generate. The
// storyboard image is the mandatory composition reference; role and scene
// images are optional and their order is meaningful to the provider.
type GenerationRequest struct {
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	StoryboardImage types.ImageRef `json:"storyboard_image"`
	RoleImage      types.ImageRef `json:"role_image,omitempty"`
	SceneImage     types.ImageRef `json:"scene_image,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"` // "W:H"
}

// GenerationResult is returned only on success and always carries a
// self-contained image.
type GenerationResult struct {
	Image types.DataURI `json:"image"`
	Model string        `json:"model"`
}

// ProgressFunc receives advisory progress percentages. Values are
// monotonically non-decreasing within one Generate call.
type ProgressFunc func(percent int)

// progressReporter clamps progress to be monotonic so retries cannot make
// the UI bar jump backwards.
type progressReporter struct {
	fn   ProgressFunc
	last int
}

func (p *progressReporter) report(percent int) {
	if p.fn == nil || percent < p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}

// Task status vocabulary shared by the extractor, the poller, and the
// stream reader. Providers are loose about casing.
func isPendingStatus(s string) bool {
	switch strings.ToLower(s) {
	case "pending", "processing", "queued", "running", "waiting", "generating":
		return true
	}
	return false
}

func isSuccessStatus(s string) bool {
	switch strings.ToLower(s) {
	case "succeeded", "success", "completed", "complete", "done", "ready":
		return true
	}
	return false
}

func isFailureStatus(s string) bool {
	switch strings.ToLower(s) {
	case "failed", "fail", "error", "cancelled", "canceled", "rejected":
		return true
	}
	return false
}

func isTerminalStatus(s string) bool {
	return isSuccessStatus(s) || isFailureStatus(s)
}
