package grpcservice

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/clipxfer/internal/message"
	"go.klb.dev/clipxfer/internal/xferr"
)

// ToStruct carries m in a structpb.Struct, field for field with its JSON
// form.
func ToStruct(m *message.Message) (*structpb.Struct, error) {
	b, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("message to struct: %w", err)
	}
	return st, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(st *structpb.Struct) (*message.Message, error) {
	b, err := protojson.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("struct to message: %w", err)
	}
	m := new(message.Message)
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

var kindCodes = []struct {
	kind error
	code codes.Code
}{
	{xferr.ErrResourceUnavailable, codes.Unavailable},
	{xferr.ErrSecurityDenied, codes.PermissionDenied},
	{xferr.ErrUnknownFormat, codes.NotFound},
	{xferr.ErrUnsupportedFlavor, codes.Unimplemented},
	{xferr.ErrTranslationFailed, codes.FailedPrecondition},
	{xferr.ErrTransferFailed, codes.Aborted},
}

// StatusError turns a medium error into a gRPC status whose code names its
// error kind.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	k := xferr.KindOf(err)
	for _, kc := range kindCodes {
		if kc.kind == k {
			return status.Error(kc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus turns a gRPC status back into an error that matches its kind.
// Errors that carry no status pass through.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	cause := errors.New(st.Message())
	for _, kc := range kindCodes {
		if kc.code == st.Code() {
			return &xferr.Error{Kind: kc.kind, Err: cause}
		}
	}
	if st.Code() == codes.DeadlineExceeded {
		return &xferr.Error{Kind: xferr.ErrResourceUnavailable, Err: cause}
	}
	return err
}
