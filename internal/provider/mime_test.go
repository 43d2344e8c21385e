package provider

import (
	"strings"
	"testing"

	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/ingest"
)

func strPtr(s string) *string { return &s }

func TestBuildMIME(t *testing.T) {
	t.Parallel()

	msg := &email.Message{
		To:       []string{"to@example.com"},
		Subject:  "Raw Test",
		TextBody: strPtr("text body"),
		HTMLBody: strPtr("<p>html body</p>"),
		Attachments: []email.Attachment{
			email.NewAttachment("a1", "doc.pdf", "application/pdf", []byte("pdf content")),
		},
	}

	raw, err := BuildMIME("sender@example.com", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rawStr := string(raw)
	checks := []struct {
		name     string
		contains string
	}{
		{"From address", "sender@example.com"},
		{"To address", "to@example.com"},
		{"Subject header", "Subject: Raw Test"},
		{"multipart boundary", "multipart/mixed"},
		{"attachment content type", "application/pdf"},
		{"attachment filename", "doc.pdf"},
		{"attachment disposition", "attachment"},
	}

	for _, check := range checks {
		if !strings.Contains(rawStr, check.contains) {
			t.Errorf("raw message missing %s: expected to contain %q", check.name, check.contains)
		}
	}
}

func TestBuildMIME_ParsesBack(t *testing.T) {
	t.Parallel()

	orig := &email.Message{
		To:       []string{"to@example.com"},
		Subject:  "Round trip",
		TextBody: strPtr("plain part"),
		HTMLBody: strPtr("<b>html part</b>"),
		Attachments: []email.Attachment{
			email.NewAttachment("a1", "notes.txt", "text/plain", []byte("Hello World")),
		},
	}

	raw, err := BuildMIME("sender@example.com", orig)
	if err != nil {
		t.Fatalf("BuildMIME: %v", err)
	}
	if !ingest.IsStructured(raw) {
		t.Fatal("built message should parse as MIME")
	}

	got, err := ingest.Ingest(raw, "sender@example.com", orig.To)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if got.Subject != "Round trip" {
		t.Errorf("Subject: got %q, want %q", got.Subject, "Round trip")
	}
	if got.TextBody == nil || *got.TextBody != "plain part" {
		t.Errorf("TextBody: got %v, want %q", got.TextBody, "plain part")
	}
	if got.HTMLBody == nil || *got.HTMLBody != "<b>html part</b>" {
		t.Errorf("HTMLBody: got %v, want %q", got.HTMLBody, "<b>html part</b>")
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(got.Attachments))
	}
	att := got.Attachments[0]
	if att.Filename != "notes.txt" || string(att.Data) != "Hello World" || att.Size != 11 {
		t.Errorf("attachment: got %q %q size %d", att.Filename, att.Data, att.Size)
	}
}

func TestBuildMIME_NoBody(t *testing.T) {
	t.Parallel()

	raw, err := BuildMIME("sender@example.com", &email.Message{To: []string{"to@example.com"}, Subject: "Empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(raw), "Subject: Empty") {
		t.Errorf("raw message missing subject: %q", raw)
	}
}
