package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// ErrNoImageDecoder reports an image payload no decoder would accept.
var ErrNoImageDecoder = errors.New("no image decoder for format")

// ImageService converts between images and encoded image bytes of one MIME
// type. Platform backends implement it for their native bitmap layouts.
type ImageService interface {
	EncodeImage(img image.Image, mimeType string) ([]byte, error)
	DecodeImage(data []byte, mimeType string) (image.Image, error)
}

type (
	imageDecoder func(r io.Reader) (image.Image, error)
	imageEncoder func(w io.Writer, img image.Image) error
)

// StandardImages is the portable ImageService: PNG, JPEG and GIF from the
// standard library, BMP and TIFF from golang.org/x/image, and WebP for
// decoding only.
type StandardImages struct {
	mu       sync.RWMutex
	decoders map[string][]imageDecoder
	encoders map[string]imageEncoder
}

// NewStandardImages returns the portable image service.
func NewStandardImages() *StandardImages {
	s := &StandardImages{
		decoders: make(map[string][]imageDecoder),
		encoders: make(map[string]imageEncoder),
	}
	s.Register("image/png", png.Decode, png.Encode)
	s.Register("image/jpeg", jpeg.Decode, func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	})
	s.Register("image/gif", gif.Decode, func(w io.Writer, img image.Image) error {
		return gif.Encode(w, img, nil)
	})
	s.Register("image/bmp", bmp.Decode, bmp.Encode)
	s.Register("image/tiff", tiff.Decode, func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, nil)
	})
	s.Register("image/webp", webp.Decode, nil)
	s.alias("image/jpg", "image/jpeg")
	s.alias("image/x-png", "image/png")
	s.alias("image/x-ms-bmp", "image/bmp")
	return s
}

// Register adds a decoder, and optionally an encoder, for mimeType.
// Decoders for one type are tried in registration order.
func (s *StandardImages) Register(mimeType string, dec func(io.Reader) (image.Image, error), enc func(io.Writer, image.Image) error) {
	mimeType = strings.ToLower(mimeType)
	s.mu.Lock()
	defer s.mu.Unlock()
	if dec != nil {
		s.decoders[mimeType] = append(s.decoders[mimeType], dec)
	}
	if enc != nil {
		s.encoders[mimeType] = enc
	}
}

func (s *StandardImages) alias(name, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoders[name] = s.decoders[target]
	if enc, ok := s.encoders[target]; ok {
		s.encoders[name] = enc
	}
}

func (s *StandardImages) EncodeImage(img image.Image, mimeType string) ([]byte, error) {
	s.mu.RLock()
	enc, ok := s.encoders[strings.ToLower(mimeType)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no image encoder for %s", mimeType)
	}
	var b bytes.Buffer
	if err := enc(&b, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", mimeType, err)
	}
	return b.Bytes(), nil
}

// DecodeImage tries every decoder registered for mimeType and returns the
// first image produced. When all fail only the last failure is reported.
func (s *StandardImages) DecodeImage(data []byte, mimeType string) (image.Image, error) {
	s.mu.RLock()
	decs := s.decoders[strings.ToLower(mimeType)]
	s.mu.RUnlock()
	var last error
	for _, dec := range decs {
		img, err := dec(bytes.NewReader(data))
		if err == nil && img != nil {
			return img, nil
		}
		last = err
	}
	if last == nil {
		return nil, fmt.Errorf("%w %s", ErrNoImageDecoder, mimeType)
	}
	return nil, fmt.Errorf("decode %s: %w", mimeType, last)
}

func (c *Codec) encodeImage(img image.Image, mimeType string) ([]byte, error) {
	if c.images != nil {
		return c.images.EncodeImage(img, mimeType)
	}
	return c.standard.EncodeImage(img, mimeType)
}

// decodeImage asks the platform service first and falls back to the
// standard decoders. A platform failure is superseded by the fallback's.
func (c *Codec) decodeImage(data []byte, mimeType string) (image.Image, error) {
	if c.images != nil {
		if img, err := c.images.DecodeImage(data, mimeType); err == nil && img != nil {
			return img, nil
		}
	}
	return c.standard.DecodeImage(data, mimeType)
}
