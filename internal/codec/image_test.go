package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"go.klb.dev/clipxfer/internal/flavor"
	"go.klb.dev/clipxfer/internal/xferr"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestImage_PNGRoundTrip(t *testing.T) {
	c, reg := newTestCodec(t)
	reg.MarkImage("image/png", "image/png")
	n := reg.FormatFor("image/png")

	out, err := c.Encode(testImage(), flavor.Picture, n)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), out[:4])

	v, err := c.Decode(out, flavor.Picture, n, nil)
	require.NoError(t, err)
	img := v.(image.Image)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestImage_BMPImport(t *testing.T) {
	c, reg := newTestCodec(t)
	reg.MarkImage("image/bmp", "image/bmp")

	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, testImage()))
	v, err := c.Decode(buf.Bytes(), flavor.Picture, reg.FormatFor("image/bmp"), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, v.(image.Image).Bounds().Dx())
}

type failingImages struct{ calls int }

func (f *failingImages) EncodeImage(image.Image, string) ([]byte, error) {
	f.calls++
	return nil, errors.New("platform encode failed")
}

func (f *failingImages) DecodeImage([]byte, string) (image.Image, error) {
	f.calls++
	return nil, errors.New("platform decode failed")
}

func TestImage_PlatformFallback(t *testing.T) {
	platform := &failingImages{}
	c, reg := newTestCodec(t, WithImageService(platform))
	reg.MarkImage("image/png", "image/png")
	n := reg.FormatFor("image/png")

	png, err := c.standard.EncodeImage(testImage(), "image/png")
	require.NoError(t, err)

	v, err := c.Decode(png, flavor.Picture, n, nil)
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Equal(t, 1, platform.calls)

	_, err = c.Decode([]byte("not an image"), flavor.Picture, n, nil)
	require.ErrorIs(t, err, xferr.ErrTranslationFailed)
	assert.NotContains(t, err.Error(), "platform decode failed")
	assert.NotErrorIs(t, err, ErrNoImageDecoder)

	_, err = c.Encode(testImage(), flavor.Picture, n)
	assert.ErrorContains(t, err, "platform encode failed")
}

func TestImage_NoDecoder(t *testing.T) {
	c, reg := newTestCodec(t)
	reg.MarkImage("image/x-exotic", "image/x-exotic")

	_, err := c.Decode([]byte{1, 2, 3}, flavor.Picture, reg.FormatFor("image/x-exotic"), nil)
	assert.ErrorIs(t, err, ErrNoImageDecoder)
	assert.ErrorIs(t, err, xferr.ErrTranslationFailed)

	_, err = c.Encode(testImage(), flavor.Picture, reg.FormatFor("image/x-exotic"))
	assert.ErrorIs(t, err, xferr.ErrTranslationFailed)
}

func TestImage_NotAnImageFormat(t *testing.T) {
	c, reg := newTestCodec(t)
	_, err := c.Encode(testImage(), flavor.Picture, reg.FormatFor("UTF8_STRING"))
	assert.ErrorIs(t, err, xferr.ErrTranslationFailed)
}
