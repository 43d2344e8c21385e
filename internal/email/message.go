// Package email defines the captured message records shared by the
// ingester, the store and every consumer of the store.
package email

import (
	"maps"
	"time"
)

// DefaultSubject is used when a message declares no subject.
const DefaultSubject = "No Subject"

// DefaultFilename is used for attachments that carry no name.
const DefaultFilename = "unnamed"

// DefaultContentType is used for attachments whose type cannot be determined.
const DefaultContentType = "application/octet-stream"

// Message is a captured piece of mail.
type Message struct {
	ID          string            `json:"id"`
	ReceivedAt  time.Time         `json:"received_at"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	TextBody    *string           `json:"text_body"`
	HTMLBody    *string           `json:"html_body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`

	// Source holds the raw DATA payload exactly as received.
	Source []byte `json:"-"`
}

// Attachment represents a file attached to a captured message.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// Attachment returns the attachment with the given id.
func (m *Message) Attachment(id string) (*Attachment, bool) {
	for i := range m.Attachments {
		if m.Attachments[i].ID == id {
			return &m.Attachments[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of m that shares no memory with it.
func (m *Message) Clone() *Message {
	c := *m
	c.To = append([]string(nil), m.To...)
	c.TextBody = cloneString(m.TextBody)
	c.HTMLBody = cloneString(m.HTMLBody)
	c.Headers = maps.Clone(m.Headers)
	c.Source = cloneBytes(m.Source)
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Data = cloneBytes(a.Data)
			c.Attachments[i] = a
		}
	}
	return &c
}

// NewAttachment builds an attachment, applying the filename and content
// type defaults and deriving Size from data.
func NewAttachment(id, filename, contentType string, data []byte) Attachment {
	if filename == "" {
		filename = DefaultFilename
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Attachment{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Size:        len(data),
		Data:        data,
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
