package ingest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/shineum/mailhits/internal/email"
)

// readStructured is the capability probe: it reports whether raw can be
// interpreted as an RFC 5322 / MIME message.
func readStructured(raw []byte) (*message.Entity, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, false
	}
	return entity, entity != nil
}

// tolerable reports errors after which go-message still hands back a
// usable entity with an undecoded body.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// parseStructured walks the MIME tree of entity. Attachment ids are left
// empty for the caller to assign.
func parseStructured(entity *message.Entity) (*email.Message, error) {
	h := gomail.Header{Header: entity.Header}

	msg := &email.Message{
		Subject: email.DefaultSubject,
		Headers: headerMap(entity.Header),
	}
	if subject, err := h.Subject(); err == nil && subject != "" {
		msg.Subject = subject
	}

	err := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return err
		}
		if part == nil || part.MultipartReader() != nil {
			return nil
		}
		collectPart(msg, part)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk MIME structure: %w", err)
	}

	return msg, nil
}

// collectPart files a leaf entity as the text body, the HTML body or an
// attachment.
func collectPart(msg *email.Message, part *message.Entity) {
	// An undeclared type still reads as text/plain for body selection, but
	// is recorded as unknown on attachments.
	declaredType, typeParams, err := part.Header.ContentType()
	if err != nil {
		declaredType = ""
	}
	mediaType := declaredType
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		return
	}

	disposition, dispParams, _ := part.Header.ContentDisposition()
	ah := gomail.AttachmentHeader{Header: part.Header}
	filename, _ := ah.Filename()
	if filename == "" {
		filename = dispParams["filename"]
	}
	if filename == "" {
		filename = typeParams["name"]
	}

	// A part whose transfer encoding is corrupt keeps what decoded before
	// the error; the rest of the tree is still walked.
	content, err := io.ReadAll(part.Body)
	if err != nil {
		slog.Warn("failed to decode MIME part, keeping partial content",
			"content_type", mediaType, "filename", filename, "error", err)
	}

	isBody := disposition != "attachment" && filename == ""
	switch {
	case isBody && mediaType == "text/plain":
		if msg.TextBody == nil {
			body := trimLineBreak(string(content))
			msg.TextBody = &body
		}
	case isBody && mediaType == "text/html":
		if msg.HTMLBody == nil {
			body := trimLineBreak(string(content))
			msg.HTMLBody = &body
		}
	default:
		msg.Attachments = append(msg.Attachments,
			email.NewAttachment("", filename, declaredType, content))
	}
}

func trimLineBreak(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}
