// Package content defines the content parts that make up an LLM message.
package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// Part kinds as they appear in serialized conversations.
const (
	KindText  = "text"
	KindImage = "image"
)

// DefaultImageMediaType is assumed for inline images without an explicit type.
const DefaultImageMediaType = "image/png"

// DefaultInlineDetail is the resolution hint given to inline images built
// from base64 payloads.
const DefaultInlineDetail = "low"

// Part is a piece of content within a message.
type Part interface {
	PartKind() string
}

// Text is a plain text content part.
type Text struct {
	Text string
}

func (t Text) PartKind() string { return KindText }

// Image is an image content part, referenced by URL or embedded as raw bytes.
// Exactly one of URL and Data is expected to be set. Detail is an optional
// resolution hint ("low", "high", "auto") honoured by backends that support it.
type Image struct {
	URL       string
	Data      []byte
	MediaType string
	Detail    string
}

func (i Image) PartKind() string { return KindImage }

// Inline reports whether the image carries its bytes rather than a URL.
func (i Image) Inline() bool {
	return len(i.Data) > 0
}

// Type returns the media type, falling back to DefaultImageMediaType.
func (i Image) Type() string {
	if i.MediaType == "" {
		return DefaultImageMediaType
	}
	return i.MediaType
}

// Base64 returns the standard base64 encoding of the inline bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Reference returns the image as a single URI: the URL for remote images or a
// data URI for inline ones.
func (i Image) Reference() string {
	if i.Inline() {
		return "data:" + i.Type() + ";base64," + i.Base64()
	}
	return i.URL
}

// Equal reports whether two images reference the same content.
func (i Image) Equal(o Image) bool {
	return i.URL == o.URL && bytes.Equal(i.Data, o.Data) &&
		i.MediaType == o.MediaType && i.Detail == o.Detail
}

// ParseImage builds an Image from a reference produced by [Image.Reference].
// Data URIs are decoded into inline bytes; anything else is kept as a URL.
func ParseImage(ref string) (Image, error) {
	if ref == "" {
		return Image{}, fmt.Errorf("content: empty image reference")
	}

	if !strings.HasPrefix(ref, "data:") {
		return Image{URL: ref}, nil
	}

	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return Image{}, fmt.Errorf("content: malformed data uri")
	}

	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return Image{}, fmt.Errorf("content: data uri is not base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("content: decode data uri: %w", err)
	}

	return Image{Data: data, MediaType: mediaType}, nil
}

// ImageFromBase64 decodes a bare base64 payload into an inline image with
// DefaultInlineDetail. An empty mediaType defaults to DefaultImageMediaType.
func ImageFromBase64(b64, mediaType string) (Image, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return Image{}, fmt.Errorf("content: decode base64 image: %w", err)
	}

	if mediaType == "" {
		mediaType = DefaultImageMediaType
	}

	return Image{Data: data, MediaType: mediaType, Detail: DefaultInlineDetail}, nil
}

// Clone returns a copy of p that shares no mutable memory with it.
func Clone(p Part) Part {
	if img, ok := p.(Image); ok && img.Data != nil {
		img.Data = bytes.Clone(img.Data)
		return img
	}
	return p
}

// Equal reports whether two parts carry the same kind and content.
func Equal(a, b Part) bool {
	switch av := a.(type) {
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case Image:
		bv, ok := b.(Image)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}
