package grpcservice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/xferr"
)

func TestStruct_CarriesMessage(t *testing.T) {
	in := &message.Message{
		Type:      message.TypeOpen,
		Requestor: "me",
		Clipboard: "work",
		TimeoutMS: 1500,
		Items:     []message.Item{message.NewItem("image/png", []byte{0x89, 'P', 'N', 'G', 0})},
	}
	st, err := ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "me", st.GetFields()["requestor"].GetStringValue())

	out, err := FromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	b, err := out.Items[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 0}, b)
}

func TestStatus_KeepsErrorKind(t *testing.T) {
	for _, kind := range []error{
		xferr.ErrResourceUnavailable,
		xferr.ErrSecurityDenied,
		xferr.ErrUnknownFormat,
		xferr.ErrUnsupportedFlavor,
		xferr.ErrTranslationFailed,
		xferr.ErrTransferFailed,
	} {
		sent := StatusError(&xferr.Error{Kind: kind, Err: errors.New("boom")})
		_, isStatus := status.FromError(sent)
		require.True(t, isStatus)

		got := FromStatus(sent)
		assert.ErrorIs(t, got, kind)
		assert.ErrorContains(t, got, "boom")
	}
}

func TestStatus_PlainErrors(t *testing.T) {
	assert.Equal(t, codes.Internal, status.Code(StatusError(errors.New("odd"))))
	assert.NoError(t, StatusError(nil))

	already := status.Error(codes.Unauthenticated, "no")
	assert.Same(t, already, StatusError(already))
	assert.Equal(t, codes.Unauthenticated, status.Code(FromStatus(already)))

	plain := errors.New("plain")
	assert.Same(t, plain, FromStatus(plain))
	assert.ErrorIs(t, FromStatus(status.Error(codes.DeadlineExceeded, "late")), xferr.ErrResourceUnavailable)
}
