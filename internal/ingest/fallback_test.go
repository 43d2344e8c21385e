package ingest

import "testing"

func TestParseFallback_PlainBody(t *testing.T) {
	t.Parallel()

	msg := parseFallback([]byte("Subject: Hi there\r\nX-Mailer: test\r\n\r\nline one\r\nline two\r\n"))

	if msg.Subject != "Hi there" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hi there")
	}
	if msg.Headers["X-Mailer"] != "test" {
		t.Errorf("Headers[X-Mailer]: got %q, want %q", msg.Headers["X-Mailer"], "test")
	}
	if msg.TextBody == nil || *msg.TextBody != "line one\nline two" {
		t.Errorf("TextBody: got %v, want %q", msg.TextBody, "line one\nline two")
	}
	if msg.HTMLBody != nil {
		t.Errorf("HTMLBody: got %q, want nil", *msg.HTMLBody)
	}
}

func TestParseFallback_HTMLBody(t *testing.T) {
	t.Parallel()

	msg := parseFallback([]byte("Subject: Html\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<b>hi</b>\r\n"))

	if msg.TextBody != nil {
		t.Errorf("TextBody: got %q, want nil", *msg.TextBody)
	}
	if msg.HTMLBody == nil || *msg.HTMLBody != "<b>hi</b>" {
		t.Errorf("HTMLBody: got %v, want %q", msg.HTMLBody, "<b>hi</b>")
	}
}

func TestParseFallback_Continuation(t *testing.T) {
	t.Parallel()

	msg := parseFallback([]byte("Subject: a long\r\n   folded\r\n\tsubject\r\nTo: x@example.com\r\n\r\nbody"))

	if msg.Subject != "a long folded subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "a long folded subject")
	}
	if msg.Headers["To"] != "x@example.com" {
		t.Errorf("Headers[To]: got %q, want %q", msg.Headers["To"], "x@example.com")
	}
}

func TestParseFallback_SplitsAtFirstColon(t *testing.T) {
	t.Parallel()

	msg := parseFallback([]byte("X-Url : http://example.com:8080/path \r\n\r\n"))

	if got := msg.Headers["X-Url"]; got != "http://example.com:8080/path" {
		t.Errorf("Headers[X-Url]: got %q, want %q", got, "http://example.com:8080/path")
	}
}

func TestParseFallback_LastHeaderWins(t *testing.T) {
	t.Parallel()

	msg := parseFallback([]byte("Subject: first\r\nSubject: second\r\n\r\nbody"))

	if msg.Subject != "second" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "second")
	}
}

func TestParseFallback_AlwaysOneBody(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"no headers at all",
		"\r\n\r\n",
		"Content-Type: text/html",
		"Content-Type: text/plain\r\n\r\n",
		"\xff\xfe binary \x00 junk",
	}

	for _, in := range inputs {
		msg := parseFallback([]byte(in))
		if msg.Subject == "" {
			t.Errorf("input %q: empty subject", in)
		}
		if (msg.TextBody == nil) == (msg.HTMLBody == nil) {
			t.Errorf("input %q: want exactly one body, got text=%v html=%v", in, msg.TextBody, msg.HTMLBody)
		}
		if len(msg.Attachments) != 0 {
			t.Errorf("input %q: fallback must not extract attachments", in)
		}
	}
}
