package provider

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailhits/internal/email"
)

// BuildMIME reassembles a multipart/mixed MIME message from the parsed
// bodies and attachments of msg, addressed from sender to msg.To.
func BuildMIME(sender string, msg *email.Message) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: sender}})
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if !msg.ReceivedAt.IsZero() {
		h.SetDate(msg.ReceivedAt)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if msg.TextBody != nil || msg.HTMLBody != nil {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("failed to create body part: %w", err)
		}
		if msg.TextBody != nil {
			if err := writeInline(iw, "text/plain", *msg.TextBody); err != nil {
				return nil, err
			}
		}
		if msg.HTMLBody != nil {
			if err := writeInline(iw, "text/html", *msg.HTMLBody); err != nil {
				return nil, err
			}
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close body part: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.ContentType, nil)
		ah.SetFilename(att.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := w.Write(att.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *mail.InlineWriter, mediaType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(mediaType, map[string]string{"charset": "utf-8"})

	w, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", mediaType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", mediaType, err)
	}
	return w.Close()
}
