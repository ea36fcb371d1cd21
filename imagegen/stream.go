package imagegen

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/storyboard/types"
)

// maxStreamLineBytes is the scanner buffer ceiling; inline base64 images
// can make individual frames large.
const maxStreamLineBytes = 16 << 20

// streamReader incrementally parses a server-sent event stream into the
// latest task state. A single corrupt frame is skipped, not fatal.
type streamReader struct {
	logger *zap.Logger
}

func newStreamReader(logger *zap.Logger) *streamReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &streamReader{logger: logger}
}

// Read consumes data: frames until a terminal event appears, returning the
// raw bytes and the parsed document of the last successfully parsed event.
// A stream that ends without ever reaching a terminal state is malformed.
func (r *streamReader) Read(ctx context.Context, body io.Reader) ([]byte, map[string]any, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxStreamLineBytes)

	var (
		lastRaw []byte
		lastDoc map[string]any
	)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, types.NewErrorf(types.ErrNetwork, "流式读取被取消: %v", err).
				WithCause(err)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var doc map[string]any
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			r.logger.Warn("skipping unparseable stream frame",
				zap.Int("bytes", len(payload)),
				zap.Error(err),
			)
			continue
		}

		lastRaw = []byte(payload)
		lastDoc = doc

		if isTerminalStatus(statusOf(doc)) {
			return lastRaw, lastDoc, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, types.NewErrorf(types.ErrNetwork, "流式读取失败: %v", err).
			WithRetryable(true).WithCause(err)
	}

	return nil, nil, types.NewError(types.ErrMalformedResponse,
		"事件流结束时没有出现终态事件")
}
