// Package ingest turns raw SMTP DATA payloads into captured message records.
//
// Two strategies share one output contract. Input that go-message can read
// as an RFC 5322 / MIME message is parsed structurally (typed headers, body
// parts, attachments). Anything else goes through a line-based fallback that
// only recovers headers and a single body. Malformed content never produces
// an error.
package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailhits/internal/email"
)

// IDFunc generates opaque unique identifiers.
type IDFunc func() (string, error)

// Ingester builds Message records from raw bytes and an SMTP envelope.
type Ingester struct {
	newID IDFunc
	now   func() time.Time
}

// New creates an Ingester that assigns random UUIDs and UTC timestamps.
func New() *Ingester {
	return &Ingester{
		newID: randomID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NewWithIDFunc creates an Ingester with a custom id generator.
func NewWithIDFunc(fn IDFunc) *Ingester {
	in := New()
	in.newID = fn
	return in
}

var defaultIngester = New()

// Ingest parses raw with the default Ingester.
func Ingest(raw []byte, from string, to []string) (*email.Message, error) {
	return defaultIngester.Ingest(raw, from, to)
}

// Ingest parses raw into a Message carrying the given envelope. The returned
// error is non-nil only when identifiers cannot be generated.
func (in *Ingester) Ingest(raw []byte, from string, to []string) (*email.Message, error) {
	msg := parse(raw)

	id, err := in.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].ID, err = in.newID(); err != nil {
			return nil, fmt.Errorf("failed to generate attachment id: %w", err)
		}
	}

	msg.ID = id
	msg.ReceivedAt = in.now()
	msg.From = from
	msg.To = append([]string(nil), to...)
	msg.Source = append([]byte(nil), raw...)
	return msg, nil
}

// IsStructured reports whether raw would take the structured path.
func IsStructured(raw []byte) bool {
	_, ok := readStructured(raw)
	return ok
}

func parse(raw []byte) *email.Message {
	entity, ok := readStructured(raw)
	if !ok {
		slog.Debug("message is not structured MIME, using fallback parser", "size", len(raw))
		return parseFallback(raw)
	}

	msg, err := parseStructured(entity)
	if err != nil {
		slog.Warn("structured parse failed, using fallback parser", "error", err)
		return parseFallback(raw)
	}
	return msg
}

func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
