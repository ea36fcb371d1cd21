package imagegen

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/storyboard/types"
)

func testImages() normalizedImages {
	return normalizedImages{
		Storyboard: types.EncodeDataURI("image/png", []byte("storyboard-payload-AAAAAAAA")),
		Role:       types.EncodeDataURI("image/jpeg", []byte("role-payload-BBBBBBBB")),
		Scene:      types.EncodeDataURI("image/webp", []byte("scene-payload-CCCCCCCC")),
	}
}

func testConfig(endpoint string) ProviderConfig {
	return ProviderConfig{Endpoint: endpoint, APIKey: "sk-test", Model: "test-model"}
}

func TestBuildRequest_GeminiShape(t *testing.T) {
	t.Parallel()

	req := &GenerationRequest{
		Prompt:         "一个雨夜的巷口",
		NegativePrompt: "模糊, 文字",
		AspectRatio:    "16:9",
	}
	built, err := buildRequest(ProviderGemini, req, testImages(),
		testConfig("https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"))
	require.NoError(t, err)

	// API key travels as a query parameter, never as a header.
	u, err := url.Parse(built.URL)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", u.Query().Get("key"))
	assert.Empty(t, built.Header.Get("Authorization"))

	var body geminiRequest
	require.NoError(t, json.Unmarshal(built.Body, &body))
	require.Len(t, body.Contents, 1)
	assert.Equal(t, "user", body.Contents[0].Role)
	require.NotNil(t, body.GenerationConfig)
	assert.Equal(t, []string{"IMAGE"}, body.GenerationConfig.ResponseModalities)

	parts := body.Contents[0].Parts
	require.Len(t, parts, 4)
	assert.Contains(t, parts[0].Text, "一个雨夜的巷口")
	assert.Contains(t, parts[0].Text, "避免：模糊, 文字")
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MimeType)
	assert.Equal(t, "image/webp", parts[3].InlineData.MimeType)
}

func TestBuildRequest_GeminiOmitsNegativeLineWhenEmpty(t *testing.T) {
	t.Parallel()

	req := &GenerationRequest{Prompt: "sunny street"}
	built, err := buildRequest(ProviderGemini, req, testImages(),
		testConfig("https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"))
	require.NoError(t, err)

	var body geminiRequest
	require.NoError(t, json.Unmarshal(built.Body, &body))
	assert.NotContains(t, body.Contents[0].Parts[0].Text, "避免")
}

func TestBuildRequest_AsyncTaskShape(t *testing.T) {
	t.Parallel()

	imgs := testImages()
	req := &GenerationRequest{
		Prompt:         "storm over harbor",
		NegativePrompt: "low quality",
		AspectRatio:    "16:9",
	}
	built, err := buildRequest(ProviderAsyncTask, req, imgs,
		testConfig("https://api.example.com/api/v1/jobs/createTask"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", built.Header.Get("Authorization"))

	var body asyncTaskRequest
	require.NoError(t, json.Unmarshal(built.Body, &body))
	assert.Equal(t, "test-model", body.Model)
	assert.Equal(t, "1024x576", body.ImageSize)
	assert.Equal(t, "16:9", body.AspectRatio)
	assert.Equal(t, "low quality", body.NegativePrompt)
	require.Len(t, body.URLs, 3)
	assert.Equal(t, imgs.Storyboard.String(), body.URLs[0])
	assert.Equal(t, imgs.Role.String(), body.URLs[1])
	assert.Equal(t, imgs.Scene.String(), body.URLs[2])
}

func TestBuildRequest_GenericShape(t *testing.T) {
	t.Parallel()

	imgs := testImages()
	req := &GenerationRequest{Prompt: "night market", NegativePrompt: "text"}
	built, err := buildRequest(ProviderGeneric, req, imgs,
		testConfig("https://api.example.com/v1/images/generations"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", built.Header.Get("Authorization"))

	var body genericRequest
	require.NoError(t, json.Unmarshal(built.Body, &body))
	assert.Equal(t, 1, body.N)
	assert.Equal(t, imgs.Storyboard.String(), body.Image)
	assert.Equal(t, imgs.Role.String(), body.ReferenceImage)
	assert.Equal(t, imgs.Scene.String(), body.SceneImage)
	assert.Equal(t, "text", body.NegativePrompt)
}

// Image ordering encodes meaning: storyboard, then role, then scene, in
// every protocol. Permuting the inputs must permute the outputs the same
// way.
func TestBuildRequest_PreservesImageOrdering(t *testing.T) {
	t.Parallel()

	a := types.EncodeDataURI("image/png", []byte("payload-a-0123456789"))
	b := types.EncodeDataURI("image/png", []byte("payload-b-0123456789"))
	c := types.EncodeDataURI("image/png", []byte("payload-c-0123456789"))

	orderings := []normalizedImages{
		{Storyboard: a, Role: b, Scene: c},
		{Storyboard: c, Role: a, Scene: b},
		{Storyboard: b, Scene: c}, // role omitted
		{Storyboard: a},
	}
	req := &GenerationRequest{Prompt: "p"}

	for i, imgs := range orderings {
		want := imgs.ordered()

		built, err := buildRequest(ProviderAsyncTask, req, imgs,
			testConfig("https://api.example.com/v1/createTask"))
		require.NoError(t, err, "ordering %d", i)
		var async asyncTaskRequest
		require.NoError(t, json.Unmarshal(built.Body, &async))
		require.Len(t, async.URLs, len(want), "ordering %d", i)
		for j, uri := range want {
			assert.Equal(t, uri.String(), async.URLs[j], "ordering %d url %d", i, j)
		}

		built, err = buildRequest(ProviderGemini, req, imgs,
			testConfig("https://generativelanguage.googleapis.com/v1beta/models/m:generateContent"))
		require.NoError(t, err, "ordering %d", i)
		var gem geminiRequest
		require.NoError(t, json.Unmarshal(built.Body, &gem))
		parts := gem.Contents[0].Parts[1:]
		require.Len(t, parts, len(want), "ordering %d", i)
		for j, uri := range want {
			_, payload, perr := splitDataURI(uri)
			require.NoError(t, perr)
			assert.Equal(t, payload, parts[j].InlineData.Data, "ordering %d part %d", i, j)
		}
	}
}

func TestBuildRequest_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "not a url", "/relative/path", "ftp://files.example.com/up"} {
		_, err := buildRequest(ProviderGeneric, &GenerationRequest{Prompt: "p"}, testImages(), testConfig(endpoint))
		require.Error(t, err, "endpoint %q", endpoint)
		assert.Equal(t, types.ErrInvalidEndpoint, types.GetErrorCode(err), "endpoint %q", endpoint)
	}
}

func TestPixelSize_FixedCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		aspect string
		want   string
	}{
		{"1:1", "1024x1024"},
		{"16:9", "1024x576"},
		{"9:16", "576x1024"},
		{"4:3", "1024x768"},
		{"3:4", "768x1024"},
		{"21:9", "1024x432"},
		{"", "1024x1024"},
		{"garbage", "1024x1024"},
		{"0:5", "1024x1024"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pixelSize(tt.aspect), "aspect %q", tt.aspect)
	}
}

// For any sane ratio the derived dimensions fit the 1024 base and are
// multiples of 8.
func TestPixelSize_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 64).Draw(t, "w")
		h := rapid.IntRange(1, 64).Draw(t, "h")

		var pw, ph int
		_, err := fmt.Sscanf(pixelSize(fmt.Sprintf("%d:%d", w, h)), "%dx%d", &pw, &ph)
		if err != nil {
			t.Fatalf("unparseable pixel size: %v", err)
		}
		if pw <= 0 || ph <= 0 {
			t.Fatalf("non-positive dimensions %dx%d", pw, ph)
		}
		if pw%8 != 0 || ph%8 != 0 {
			t.Fatalf("dimensions not multiples of 8: %dx%d", pw, ph)
		}
		if pw != 1024 && ph != 1024 {
			t.Fatalf("larger dimension not fitted to base: %dx%d", pw, ph)
		}
	})
}

func TestSplitDataURI(t *testing.T) {
	t.Parallel()

	uri := types.EncodeDataURI("image/jpeg", []byte("0123456789abcdef"))
	mime, payload, err := splitDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	assert.True(t, strings.HasSuffix(uri.String(), payload))

	_, _, err = splitDataURI(types.DataURI("https://example.com/a.png"))
	assert.Error(t, err)
}
