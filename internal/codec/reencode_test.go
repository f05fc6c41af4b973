package codec

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipxfer/internal/flavor"
)

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestReencodingReader_Lazy(t *testing.T) {
	src := &countingReader{r: bytes.NewReader([]byte("abc"))}
	rr, err := NewReencodingReader(src, "utf-8", "\n", 0, "utf-8")
	require.NoError(t, err)
	assert.Zero(t, src.reads)

	out, err := io.ReadAll(rr)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	assert.NotZero(t, src.reads)
}

func TestReencodingReader_EOLAndTerminator(t *testing.T) {
	native := []byte{'a', 0, '\r', 0, '\n', 0, 'b', 0, 0, 0, 'j', 0, 'k', 0}
	rr, err := NewReencodingReader(bytes.NewReader(native), "utf-16le", "\r\n", 2, "utf-8")
	require.NoError(t, err)
	assert.NoError(t, iotest.TestReader(rr, []byte("a\nb")))
}

func TestReencodingReader_SingleBOM(t *testing.T) {
	rr, err := NewReencodingReader(bytes.NewReader([]byte("ab")), "utf-8", "\n", 0, "utf-16")
	require.NoError(t, err)
	out, err := io.ReadAll(rr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff, 0, 'a', 0, 'b'}, out)
}

func TestReencodingReader_ExhaustedStaysExhausted(t *testing.T) {
	rr, err := NewReencodingReader(bytes.NewReader(nil), "utf-8", "\n", 0, "utf-8")
	require.NoError(t, err)
	buf := make([]byte, 4)
	for range 3 {
		n, err := rr.Read(buf)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestDecodeStream_PlainTextFlavor(t *testing.T) {
	c, reg := newTestCodec(t)
	reg.RegisterTextProperties("UTF8_STRING", "utf-8", "", 0)

	v, err := c.DecodeStream(bytes.NewReader([]byte("hi")), flavor.PlainText, reg.FormatFor("UTF8_STRING"), nil)
	require.NoError(t, err)
	out, err := io.ReadAll(v.(io.Reader))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff, 0, 'h', 0, 'i'}, out)
}

func TestDecodeStream_OpaqueStreamIsNotDrained(t *testing.T) {
	c, reg := newTestCodec(t)
	src := &countingReader{r: bytes.NewReader([]byte{1, 2})}
	stream := flavor.MustNew("application/octet-stream", flavor.Stream)

	v, err := c.DecodeStream(src, stream, reg.FormatFor("BLOB"), nil)
	require.NoError(t, err)
	assert.Zero(t, src.reads)
	assert.Same(t, src, v)
}
