package xferr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	err := Translation("text/plain", "UTF8_STRING", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrTranslationFailed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, "translation failed (flavor text/plain, format UTF8_STRING): unexpected EOF", err.Error())
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "unsupported flavor (flavor image/png)", Unsupported("image/png").Error())
	assert.Equal(t, "unknown native format (format #7)", (&Error{Kind: ErrUnknownFormat, Format: "#7"}).Error())
}

func TestKindOf(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("plain")))
	assert.Nil(t, KindOf(nil))
	assert.Equal(t, ErrResourceUnavailable, KindOf(fmt.Errorf("open: %w", ErrResourceUnavailable)))

	// The outer kind wins over a kind in the cause chain.
	nested := Transfer("text/plain", "UTF8_STRING", &Error{Kind: ErrUnknownFormat, Format: "#3"})
	assert.Equal(t, ErrTransferFailed, KindOf(nested))
}
