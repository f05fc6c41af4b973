// Package xferr defines the error kinds shared by the clipxfer packages.
//
// Every failure surfaced by the translation core matches exactly one of the
// sentinel kinds below with errors.Is. Errors that carry context (the flavor
// and native format involved) are returned as *Error, which unwraps to both
// its kind and its underlying cause:
//
//	errors.Is(err, xferr.ErrTranslationFailed) // kind
//	errors.Is(err, io.ErrUnexpectedEOF)        // cause
package xferr

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownFormat reports a native format that was never registered.
	ErrUnknownFormat = errors.New("unknown native format")

	// ErrUnsupportedFlavor reports a flavor outside a transfer's supported set.
	ErrUnsupportedFlavor = errors.New("unsupported flavor")

	// ErrTranslationFailed reports that the codec could not convert between
	// a flavor and a native format.
	ErrTranslationFailed = errors.New("translation failed")

	// ErrTransferFailed reports that fetching a native payload from the
	// medium failed.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrSecurityDenied reports a file-list entry rejected by the access
	// predicate. It never reaches callers of the codec; denied entries are
	// omitted from results.
	ErrSecurityDenied = errors.New("access denied")

	// ErrResourceUnavailable reports that the medium lock could not be
	// acquired.
	ErrResourceUnavailable = errors.New("transfer medium unavailable")
)

// Error carries the kind of a failure together with the flavor and native
// format it concerns.
type Error struct {
	Kind   error
	Flavor string
	Format string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Flavor != "" {
		b.WriteString(" (flavor ")
		b.WriteString(e.Flavor)
		if e.Format != "" {
			b.WriteString(", format ")
			b.WriteString(e.Format)
		}
		b.WriteString(")")
	} else if e.Format != "" {
		b.WriteString(" (format ")
		b.WriteString(e.Format)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Translation returns an ErrTranslationFailed error.
func Translation(flavor, format string, cause error) error {
	return &Error{Kind: ErrTranslationFailed, Flavor: flavor, Format: format, Err: cause}
}

// Transfer returns an ErrTransferFailed error.
func Transfer(flavor, format string, cause error) error {
	return &Error{Kind: ErrTransferFailed, Flavor: flavor, Format: format, Err: cause}
}

// Unsupported returns an ErrUnsupportedFlavor error.
func Unsupported(flavor string) error {
	return &Error{Kind: ErrUnsupportedFlavor, Flavor: flavor}
}

// KindOf returns the sentinel kind err matches, or nil. The outermost
// *Error decides when there are several.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []error{
		ErrUnknownFormat,
		ErrUnsupportedFlavor,
		ErrTranslationFailed,
		ErrTransferFailed,
		ErrSecurityDenied,
		ErrResourceUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
