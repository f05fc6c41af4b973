package flavor

// Well-known flavors.
var (
	// PlainString is the canonical plain-text flavor delivered as a Go string.
	PlainString = MustNew("text/plain; charset=utf-8", String)

	// PlainText is the legacy plain-text stream flavor. Encoders never trust
	// its declared representation; they re-request PlainString from the
	// source instead.
	PlainText = MustNew("text/plain; charset=utf-16", Stream)

	// Files is a list of absolute file-system paths.
	Files = MustNew("application/x-file-list", FileList)

	// Picture is a decoded image.
	Picture = MustNew("image/x-go-image", Image)

	// TextEncoding carries the name of the charset used by locale-dependent
	// text natives on the same transfer.
	TextEncoding = MustNew("application/x-text-encoding", Bytes)
)

// ObjectFlavor returns the flavor for serializable Go values of the named
// type (as registered with objser).
func ObjectFlavor(class string) Flavor {
	return Flavor{primary: "application", subtype: "x-go-object", class: class, repr: Object}
}

// RemoteFlavor returns the flavor for references to remote objects of the
// named type.
func RemoteFlavor(class string) Flavor {
	return Flavor{primary: "application", subtype: "x-go-remote-object", class: class, repr: Remote}
}
