package types

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseDataURI_RoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte("some fake image bytes for the round trip")
	uri := EncodeDataURI("image/png", raw)

	mime, data, err := ParseDataURI(uri.String())
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, raw, data)
}

func TestParseDataURI_RejectsMalformedShapes(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"data:image/png;base64",
		"data:image/png,plainpayload",
		"data:;base64,aGVsbG8=",
		"http://example.com/a.png",
		"data:image/png;base64,not valid base64!!",
	}
	for _, c := range cases {
		_, _, err := ParseDataURI(c)
		assert.Error(t, err, "input %q", c)
	}
}

func TestIsDataURI(t *testing.T) {
	t.Parallel()

	b64 := base64.StdEncoding.EncodeToString([]byte("payload"))
	assert.True(t, IsDataURI("data:image/jpeg;base64,"+b64))
	assert.False(t, IsDataURI("https://cdn.example.com/img.jpeg"))
}

func TestImageRefConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ImageRefDataURI, DataURIRef("image/png", "AAAA").Kind)
	assert.Equal(t, ImageRefBlob, BlobRef([]byte{1, 2}).Kind)
	assert.Equal(t, ImageRefRemoteURL, RemoteURLRef("https://x/y.png").Kind)
	assert.True(t, ImageRef{}.IsZero())
	assert.False(t, BlobRef([]byte{1}).IsZero())
}
