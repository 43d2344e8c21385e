package ingest

import (
	"strings"

	"github.com/shineum/mailhits/internal/email"
)

// parseFallback is the line-based parser for input the MIME reader rejects.
// It never fails and never extracts attachments.
func parseFallback(raw []byte) *email.Message {
	headers := make(map[string]string)
	var (
		bodyLines []string
		current   string
		inHeaders = true
	)

	flush := func() {
		if name, value, ok := strings.Cut(current, ":"); ok {
			headers[HeaderName(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}
		current = ""
	}

	for _, line := range splitLines(strings.ToValidUTF8(string(raw), "�")) {
		if !inHeaders {
			bodyLines = append(bodyLines, line)
			continue
		}
		switch {
		case line == "":
			flush()
			inHeaders = false
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			current += " " + strings.TrimSpace(line)
		default:
			flush()
			current = line
		}
	}
	if inHeaders {
		flush()
	}

	subject, ok := headers["Subject"]
	if !ok {
		subject = email.DefaultSubject
	}

	msg := &email.Message{
		Subject: subject,
		Headers: headers,
	}
	body := strings.Join(bodyLines, "\n")
	if strings.Contains(headers["Content-Type"], "text/html") {
		msg.HTMLBody = &body
	} else {
		msg.TextBody = &body
	}
	return msg
}

// splitLines splits s on "\n", dropping a trailing "\r" from each line and
// producing no empty element for a final terminator.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
