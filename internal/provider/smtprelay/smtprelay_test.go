package smtprelay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shineum/mailhits/internal/email"
	"github.com/shineum/mailhits/internal/provider"
	"github.com/shineum/mailhits/internal/smtp"
	"github.com/shineum/mailhits/internal/store"
)

func strPtr(s string) *string { return &s }

// startCapture runs a second capture server acting as the upstream relay.
func startCapture(t *testing.T) (*smtp.Server, *store.Store) {
	t.Helper()

	st := store.New()
	srv := smtp.New(smtp.ServerConfig{ListenAddr: "127.0.0.1:0", Hostname: "upstream.test", Recorder: st})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, st
}

func TestSend_RelaysSourceUnchanged(t *testing.T) {
	t.Parallel()

	upstream, st := startCapture(t)
	p := New(Config{Addr: upstream.Addr(), Hostname: "mailhits.test"})

	msg := &email.Message{
		ID:      "captured-1",
		From:    "app@example.com",
		To:      []string{"qa@example.com", "dev@example.com"},
		Subject: "Relayed",
		Source:  []byte("Subject: Relayed\r\nX-Trace: kept\r\n\r\nhello\r\n.leading dot\r\n"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := st.List()
	if len(msgs) != 1 {
		t.Fatalf("upstream messages: got %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.From != "app@example.com" {
		t.Errorf("From: got %q, want %q", got.From, "app@example.com")
	}
	if len(got.To) != 2 || got.To[0] != "qa@example.com" || got.To[1] != "dev@example.com" {
		t.Errorf("To: got %v", got.To)
	}
	if got.Subject != "Relayed" {
		t.Errorf("Subject: got %q, want %q", got.Subject, "Relayed")
	}
	if got.Headers["X-Trace"] != "kept" {
		t.Errorf("X-Trace header: got %q, want %q", got.Headers["X-Trace"], "kept")
	}
	if string(got.Source) != string(msg.Source) {
		t.Errorf("Source: got %q, want %q", got.Source, msg.Source)
	}
}

func TestSend_RebuildsWithoutSource(t *testing.T) {
	t.Parallel()

	upstream, st := startCapture(t)
	p := New(Config{Addr: upstream.Addr()})

	msg := &email.Message{
		From:     "app@example.com",
		To:       []string{"qa@example.com"},
		Subject:  "Rebuilt",
		TextBody: strPtr("from parts"),
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := st.List()
	if len(msgs) != 1 {
		t.Fatalf("upstream messages: got %d, want 1", len(msgs))
	}
	if msgs[0].Subject != "Rebuilt" {
		t.Errorf("Subject: got %q, want %q", msgs[0].Subject, "Rebuilt")
	}
	if msgs[0].TextBody == nil || *msgs[0].TextBody != "from parts" {
		t.Errorf("TextBody: got %v, want %q", msgs[0].TextBody, "from parts")
	}
}

func TestSend_NoRecipients(t *testing.T) {
	t.Parallel()

	p := New(Config{Addr: "127.0.0.1:1"})
	err := p.Send(context.Background(), &email.Message{Source: []byte("x")})
	if !errors.Is(err, provider.ErrNoRecipients) {
		t.Fatalf("error: got %v, want ErrNoRecipients", err)
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := New(Config{Addr: addr})
	msg := &email.Message{To: []string{"qa@example.com"}, Source: []byte("Subject: x\r\n\r\ny\r\n")}
	if err := p.Send(context.Background(), msg); err == nil {
		t.Fatal("expected error when relay is unreachable")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	var p provider.Provider = New(Config{})
	if p.Name() != "smtprelay" {
		t.Errorf("Name: got %q, want %q", p.Name(), "smtprelay")
	}
}
