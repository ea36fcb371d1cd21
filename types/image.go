package types

import (
	"encoding/base64"
	"fmt"
	"regexp"
)

// ImageRefKind discriminates the ways a caller may hand an image to the
// generation pipeline.
type ImageRefKind string

const (
	ImageRefDataURI   ImageRefKind = "data_uri"
	ImageRefBlob      ImageRefKind = "blob"
	ImageRefRemoteURL ImageRefKind = "remote_url"
)

// ImageRef is a tagged union over the accepted image representations.
// Exactly the fields matching Kind are populated.
type ImageRef struct {
	Kind ImageRefKind `json:"kind"`

	// ImageRefDataURI
	MIMEType string `json:"mime_type,omitempty"`
	Base64   string `json:"base64,omitempty"`

	// ImageRefBlob
	Blob []byte `json:"-"`

	// ImageRefRemoteURL
	URL string `json:"url,omitempty"`
}

// DataURIRef wraps an already-encoded image.
func DataURIRef(mimeType, b64 string) ImageRef {
	return ImageRef{Kind: ImageRefDataURI, MIMEType: mimeType, Base64: b64}
}

// BlobRef wraps raw image bytes held in memory.
func BlobRef(data []byte) ImageRef {
	return ImageRef{Kind: ImageRefBlob, Blob: data}
}

// RemoteURLRef wraps an image reachable over HTTP.
func RemoteURLRef(url string) ImageRef {
	return ImageRef{Kind: ImageRefRemoteURL, URL: url}
}

// IsZero reports whether the reference was never set.
func (r ImageRef) IsZero() bool { return r.Kind == "" }

// DataURI is a self-contained base64 image of the form
// data:<mime>;base64,<payload>.
type DataURI string

var dataURIPattern = regexp.MustCompile(`^data:([a-zA-Z0-9][a-zA-Z0-9.+/-]*);base64,([A-Za-z0-9+/]+={0,2})$`)

// EncodeDataURI builds a DataURI from raw bytes.
func EncodeDataURI(mimeType string, data []byte) DataURI {
	return DataURI(fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)))
}

// ParseDataURI validates the data:<mime>;base64,<payload> shape and decodes
// the payload.
func ParseDataURI(s string) (mimeType string, data []byte, err error) {
	m := dataURIPattern.FindStringSubmatch(s)
	if m == nil {
		return "", nil, fmt.Errorf("not a base64 data URI")
	}
	data, err = base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return m[1], data, nil
}

// IsDataURI reports whether s matches the data URI shape without decoding it.
func IsDataURI(s string) bool {
	return dataURIPattern.MatchString(s)
}

// String implements fmt.Stringer.
func (d DataURI) String() string { return string(d) }
