package ses

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func strPtr(s string) *string { return &s }

// newTestProvider returns a provider with a negligible retry delay.
func newTestProvider(client SendEmailAPI) *SESProvider {
	p := NewWithClient("sender@example.com", client)
	p.baseDelay = time.Millisecond
	return p
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextMessage(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Message{
		From:     "app@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Test Subject",
		TextBody: strPtr("Hello, World!"),
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "to@example.com" {
		t.Errorf("ToAddresses: got %v", got)
	}
}

func TestSend_SimpleHTMLMessage(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Message{
		To:       []string{"to@example.com"},
		Subject:  "HTML Test",
		TextBody: strPtr("Plain text fallback"),
		HTMLBody: strPtr("<h1>Hello</h1>"),
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if got := *input.Content.Simple.Body.Html.Data; got != "<h1>Hello</h1>" {
		t.Errorf("HTMLBody: got %q, want %q", got, "<h1>Hello</h1>")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Plain text fallback" {
		t.Errorf("TextBody: got %q, want %q", got, "Plain text fallback")
	}
	if got := *input.Content.Simple.Body.Html.Charset; got != "UTF-8" {
		t.Errorf("HTML charset: got %q, want %q", got, "UTF-8")
	}
}

func TestSend_ForwardsCapturedSource(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	source := []byte("Subject: Captured\r\n\r\nbody\r\n")
	msg := &email.Message{
		To:       []string{"qa@example.com", "dev@example.com"},
		Subject:  "Captured",
		TextBody: strPtr("body"),
		Source:   source,
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw content when source is present")
	}
	if string(input.Content.Raw.Data) != string(source) {
		t.Errorf("Raw.Data: got %q, want %q", input.Content.Raw.Data, source)
	}
	if got := input.Destination.ToAddresses; len(got) != 2 {
		t.Errorf("ToAddresses: got %v, want 2 recipients", got)
	}
}

func TestSend_RebuildsAttachmentsWithoutSource(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Message{
		To:       []string{"to@example.com"},
		Subject:  "With Attachment",
		TextBody: strPtr("See attachment"),
		Attachments: []email.Attachment{
			email.NewAttachment("a1", "test.txt", "text/plain", []byte("file content")),
		},
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if !strings.Contains(string(input.Content.Raw.Data), "test.txt") {
		t.Error("raw message missing attachment filename")
	}
}

func TestSend_NoRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	err := p.Send(context.Background(), &email.Message{Subject: "nobody"})
	if !errors.Is(err, provider.ErrNoRecipients) {
		t.Fatalf("error: got %v, want ErrNoRecipients", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}

func TestSend_RetryOnError(t *testing.T) {
	t.Parallel()

	callCount := 0
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			callCount++
			if callCount <= 2 {
				return nil, errors.New("transient error")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := newTestProvider(mock)

	msg := &email.Message{To: []string{"to@example.com"}, Subject: "Retry Test", TextBody: strPtr("Hello")}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if callCount != 3 {
		t.Errorf("call count: got %d, want 3", callCount)
	}
}

func TestSend_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("persistent error")
		},
	}
	p := newTestProvider(mock)

	msg := &email.Message{To: []string{"to@example.com"}, Subject: "Fail Test", TextBody: strPtr("Hello")}

	err := p.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !strings.Contains(err.Error(), "after 3 retries") {
		t.Errorf("error message: got %q, want to contain 'after 3 retries'", err.Error())
	}
	// 1 initial + 3 retries = 4 total
	if mock.callCount != 4 {
		t.Errorf("call count: got %d, want 4", mock.callCount)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("error")
		},
	}
	p := NewWithClient("sender@example.com", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	msg := &email.Message{To: []string{"to@example.com"}, Subject: "Cancel Test", TextBody: strPtr("Hello")}

	err := p.Send(ctx, msg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: got %v, want context.Canceled", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(baseRetryDelay, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*SESProvider)(nil)
}
