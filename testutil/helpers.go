package testutil

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// PNGBytes returns a small deterministic PNG. The gradient keeps the
// encoder from compressing it under the pipeline's 100-byte floor.
func PNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(x * 4),
				G: uint8(y * 4),
				B: uint8((x ^ y) * 4),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

// PNGBase64 returns the fixture PNG as a bare base64 payload.
func PNGBase64(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(PNGBytes(t))
}

// PNGDataURIString returns the fixture PNG as a data URI string.
func PNGDataURIString(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("data:image/png;base64,%s", PNGBase64(t))
}
