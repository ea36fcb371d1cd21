package imagegen

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storyboard/types"
)

// minImageBytes is the floor below which a decoded image is considered
// empty or corrupt and is rejected before any network call.
const minImageBytes = 100

// maxFetchBytes bounds how much of a remote image we are willing to read.
const maxFetchBytes = 32 << 20

// Normalizer reduces any accepted image representation to a self-contained
// data URI. It caches nothing: fetched bytes live only for the call.
type Normalizer struct {
	client *http.Client
	logger *zap.Logger
}

// NewNormalizer creates a normalizer. A nil client gets a default with a
// conservative timeout; a nil logger is replaced with a nop logger.
func NewNormalizer(client *http.Client, logger *zap.Logger) *Normalizer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{client: client, logger: logger}
}

// Normalize converts ref into a data URI, failing with INVALID_INPUT when
// the decoded payload is under the minimum byte floor.
func (n *Normalizer) Normalize(ctx context.Context, ref types.ImageRef) (types.DataURI, error) {
	switch ref.Kind {
	case types.ImageRefDataURI:
		uri := fmt.Sprintf("data:%s;base64,%s", ref.MIMEType, ref.Base64)
		mimeType, data, err := types.ParseDataURI(uri)
		if err != nil {
			return "", types.NewErrorf(types.ErrInvalidInput, "图片编码无效: %v", err)
		}
		if len(data) < minImageBytes {
			return "", undersizedErr(len(data))
		}
		return types.EncodeDataURI(mimeType, data), nil

	case types.ImageRefBlob:
		if len(ref.Blob) < minImageBytes {
			return "", undersizedErr(len(ref.Blob))
		}
		return types.EncodeDataURI(detectMIME(ref.Blob), ref.Blob), nil

	case types.ImageRefRemoteURL:
		return n.fetch(ctx, ref.URL)

	default:
		return "", types.NewError(types.ErrInvalidInput, "缺少图片输入")
	}
}

func (n *Normalizer) fetch(ctx context.Context, url string) (types.DataURI, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", types.NewErrorf(types.ErrInvalidInput, "图片地址无效: %v", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", types.NewErrorf(types.ErrNetwork, "图片下载失败: %v", err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", types.NewErrorf(types.ErrInvalidInput, "图片下载失败: HTTP %d", resp.StatusCode).
			WithHTTPStatus(resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", types.NewErrorf(types.ErrNetwork, "图片读取失败: %v", err).WithRetryable(true)
	}
	if len(data) < minImageBytes {
		return "", undersizedErr(len(data))
	}

	mimeType := contentTypeMIME(resp.Header.Get("Content-Type"))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = detectMIME(data)
	}

	n.logger.Debug("remote image normalized",
		zap.String("url", url),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
	)
	return types.EncodeDataURI(mimeType, data), nil
}

func undersizedErr(size int) *types.Error {
	return types.NewErrorf(types.ErrInvalidInput,
		"图片数据过小（%d 字节），可能为空或已损坏", size)
}

func detectMIME(data []byte) string {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		// Unknown payloads are treated as PNG; the provider will complain
		// if it truly cannot decode them.
		return "image/png"
	}
	return mimeType
}

func contentTypeMIME(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
