// Package message defines the clipxfer daemon protocol.
//
// All messages are newline-delimited JSON. Payloads are always base64-encoded
// so that binary content (images, etc.) is safe to embed in JSON strings.
// Each message is exactly one line: <json>\n
//
// A connection carries at most one open medium session at a time:
//
//	client                      daemon
//	AUTH {source, payload}  ->
//	                        <-  OK
//	OPEN {requestor}        ->  (waits for the medium lock)
//	                        <-  OK | ERROR {kind: resource_unavailable}
//	FORMATS                 ->
//	                        <-  FORMATS {formats}
//	FETCH {name}            ->
//	                        <-  DATA {items: [one item]}
//	CLOSE                   ->
//	                        <-  OK
//
// PUBLISH, STATUS and PING are answered outside sessions. WATCH turns the
// connection into a one-way stream of CHANGED messages.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.klb.dev/clipxfer/internal/medium"
	"go.klb.dev/clipxfer/internal/xferr"
)

// Type identifies the kind of message.
type Type string

const (
	TypeAuth           Type = "AUTH"
	TypeOK             Type = "OK"
	TypeOpen           Type = "OPEN"
	TypeClose          Type = "CLOSE"
	TypeFormats        Type = "FORMATS"
	TypeFetch          Type = "FETCH"
	TypeData           Type = "DATA"
	TypePublish        Type = "PUBLISH"
	TypeWatch          Type = "WATCH"
	TypeChanged        Type = "CHANGED"
	TypePing           Type = "PING"
	TypePong           Type = "PONG"
	TypeStatus         Type = "STATUS"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeError          Type = "ERROR"
)

// DefaultClipboard is the name of the default clipboard namespace.
const DefaultClipboard = "default"

// Item is a single native payload. Data is always base64-encoded.
type Item struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// NewItem creates an Item from raw bytes.
func NewItem(name string, data []byte) Item {
	return Item{Name: name, Data: base64.StdEncoding.EncodeToString(data)}
}

// Decode returns the raw bytes of the item payload.
func (it Item) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(it.Data)
}

// FromMedium converts rendered medium items for the wire.
func FromMedium(items []medium.Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = NewItem(it.Name, it.Data)
	}
	return out
}

// ToMedium decodes wire items.
func ToMedium(items []Item) ([]medium.Item, error) {
	out := make([]medium.Item, len(items))
	for i, it := range items {
		b, err := it.Decode()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", it.Name, err)
		}
		out[i] = medium.Item{Name: it.Name, Data: b}
	}
	return out, nil
}

// ClientInfo carries metadata about a connected client, used in STATUS
// responses.
type ClientInfo struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Clipboard   string    `json:"clipboard"`
	Session     bool      `json:"session,omitempty"`
	Watching    bool      `json:"watching,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// ClipboardInfo describes one clipboard hosted by the daemon.
type ClipboardInfo struct {
	Name    string   `json:"name"`
	Formats []string `json:"formats,omitempty"`
	Holder  string   `json:"holder,omitempty"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type      Type   `json:"type"`
	Source    string `json:"source,omitempty"`
	Clipboard string `json:"clipboard,omitempty"`

	// AUTH — token is base64-encoded
	Payload string `json:"payload,omitempty"`

	// OPEN — how long the daemon may wait for the medium lock
	Requestor string `json:"requestor,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`

	// FETCH
	Name string `json:"name,omitempty"`

	// DATA, PUBLISH
	Items []Item `json:"items,omitempty"`

	// FORMATS, CHANGED
	Formats []string `json:"formats,omitempty"`

	// STATUS_RESPONSE
	Clients    []ClientInfo    `json:"clients,omitempty"`
	Clipboards []ClipboardInfo `json:"clipboards,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// ClipboardOf returns the effective clipboard name, defaulting to DefaultClipboard.
func (m *Message) ClipboardOf() string {
	if m.Clipboard == "" {
		return DefaultClipboard
	}
	return m.Clipboard
}

// Timeout returns the OPEN wait, or def when none was given.
func (m *Message) Timeout(def time.Duration) time.Duration {
	if m.TimeoutMS <= 0 {
		return def
	}
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

var kinds = map[string]error{
	"unknown_format":       xferr.ErrUnknownFormat,
	"unsupported_flavor":   xferr.ErrUnsupportedFlavor,
	"translation_failed":   xferr.ErrTranslationFailed,
	"transfer_failed":      xferr.ErrTransferFailed,
	"security_denied":      xferr.ErrSecurityDenied,
	"resource_unavailable": xferr.ErrResourceUnavailable,
}

// ErrorMessage builds an ERROR reply carrying err's kind.
func ErrorMessage(err error) *Message {
	m := &Message{Type: TypeError, Error: err.Error()}
	if k := xferr.KindOf(err); k != nil {
		for name, sentinel := range kinds {
			if sentinel == k {
				m.Kind = name
			}
		}
	}
	return m
}

// Err turns an ERROR reply back into an error that matches its kind.
func (m *Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	cause := errors.New(m.Error)
	if k, ok := kinds[m.Kind]; ok {
		return &xferr.Error{Kind: k, Err: cause}
	}
	return cause
}
