package smtp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
)

// Replies sent to clients. The hostname is substituted where a reply
// carries %s.
const (
	replyGreeting    = "220 %s SMTP Server ready"
	replyHello       = "250 %s"
	replyOK          = "250 OK"
	replyAccepted    = "250 OK: Message accepted"
	replyStartData   = "354 Start mail input; end with <CRLF>.<CRLF>"
	replyBadSyntax   = "501 Syntax error in parameters"
	replyBadSequence = "503 Bad sequence of commands"
	replyUnknown     = "500 Command not recognized"
	replyClosing     = "221 %s closing connection"
	replyFailed      = "554 Transaction failed"
)

// state is a session's position in the SMTP dialogue.
type state int

const (
	stateGreeting state = iota // banner not yet sent
	stateReady                 // empty envelope
	stateMailSet               // sender only
	stateRcptSet               // recipients only
	stateEnvelope              // sender and recipients, DATA allowed
	stateData                  // collecting message lines
)

func (s state) String() string {
	switch s {
	case stateGreeting:
		return "greeting"
	case stateReady:
		return "ready"
	case stateMailSet:
		return "mail-set"
	case stateRcptSet:
		return "rcpt-set"
	case stateEnvelope:
		return "envelope"
	case stateData:
		return "data"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// envelopeStates is the state reached after MAIL or RCPT, indexed by
// [sender set][recipients set]. MAIL and RCPT only touch their own half of
// the envelope, so a second MAIL keeps earlier recipients.
var envelopeStates = [2][2]state{
	{stateReady, stateRcptSet},
	{stateMailSet, stateEnvelope},
}

// Session handles a single SMTP client connection and drives the capture
// state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    state
	hostname string
	logger   *slog.Logger

	ingest    IngestFunc
	recorder  Recorder
	publisher Publisher

	// Current transaction
	mailFrom   string
	rcptTo     []string
	dataBuffer bytes.Buffer
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, hostname string, ingest IngestFunc, rec Recorder, pub Publisher) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateGreeting,
		hostname:  hostname,
		logger:    slog.With("remote", conn.RemoteAddr().String()),
		ingest:    ingest,
		recorder:  rec,
		publisher: pub,
	}
}

// Handle runs the session until the client quits, disconnects or an I/O
// error occurs. The connection is closed on return. Errors are connection
// failures only; protocol errors are answered on the wire.
func (s *Session) Handle(ctx context.Context) error {
	defer s.conn.Close()

	if err := s.writeLine(replyGreeting, s.hostname); err != nil {
		return err
	}
	s.state = stateReady

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read from client: %w", err)
			}
			// An unterminated final line is still handled.
			if line == "" {
				return nil
			}
		}
		last := err != nil

		if s.state == stateData {
			err = s.handleDataLine(line)
		} else {
			s.logger.Debug("SMTP <<", "line", strings.TrimSpace(line))
			var done bool
			done, err = s.handleCommand(line)
			if done {
				return err
			}
		}
		if err != nil || last {
			return err
		}
	}
}

// handleCommand processes a single command line and reports whether the
// session should end.
func (s *Session) handleCommand(line string) (bool, error) {
	cmd, arg := parseCommand(strings.TrimSpace(line))

	switch cmd {
	case "HELO", "EHLO":
		return false, s.handleHELO(arg)
	case "MAIL":
		return false, s.handleMAIL(arg)
	case "RCPT":
		return false, s.handleRCPT(arg)
	case "DATA":
		return false, s.handleDATA()
	case "RSET":
		s.resetTransaction()
		return false, s.writeLine(replyOK)
	case "NOOP":
		return false, s.writeLine(replyOK)
	case "QUIT":
		return true, s.writeLine(replyClosing, s.hostname)
	default:
		return false, s.writeLine(replyUnknown)
	}
}

// handleHELO accepts HELO/EHLO unconditionally.
func (s *Session) handleHELO(arg string) error {
	domain := arg
	if domain == "" {
		domain = "unknown"
	}
	s.logger.Info("HELO", "domain", domain)
	return s.writeLine(replyHello, s.hostname)
}

// handleMAIL sets the envelope sender. Recipients are left untouched.
func (s *Session) handleMAIL(arg string) error {
	from, ok := strings.CutPrefix(arg, "FROM:")
	if !ok {
		return s.writeLine(replyBadSyntax)
	}

	s.mailFrom = extractAddress(from)
	s.state = s.envelopeState()
	s.logger.Info("MAIL FROM", "from", s.mailFrom)
	return s.writeLine(replyOK)
}

// handleRCPT appends an envelope recipient. Duplicates are kept.
func (s *Session) handleRCPT(arg string) error {
	to, ok := strings.CutPrefix(arg, "TO:")
	if !ok {
		return s.writeLine(replyBadSyntax)
	}

	addr := extractAddress(to)
	s.rcptTo = append(s.rcptTo, addr)
	s.state = s.envelopeState()
	s.logger.Info("RCPT TO", "to", addr)
	return s.writeLine(replyOK)
}

// handleDATA switches to data collection once the envelope is complete.
func (s *Session) handleDATA() error {
	if s.state != stateEnvelope {
		return s.writeLine(replyBadSequence)
	}

	s.dataBuffer.Reset()
	s.state = stateData
	return s.writeLine(replyStartData)
}

// handleDataLine accumulates one message line, undoing dot-stuffing, and
// completes the transaction on the lone "." terminator.
// No size limit is applied to the buffered message.
func (s *Session) handleDataLine(line string) error {
	if trimLineEnding(line) == "." {
		return s.completeData()
	}

	if strings.HasPrefix(line, "..") {
		line = line[1:]
	}
	s.dataBuffer.WriteString(line)
	return nil
}

// completeData ingests the buffered message and commits it. The session is
// reset whatever the outcome.
func (s *Session) completeData() error {
	raw := bytes.Clone(s.dataBuffer.Bytes())
	from, to := s.mailFrom, s.rcptTo
	s.resetTransaction()

	msg, err := s.ingest(raw, from, to)
	if err != nil {
		s.logger.Warn("failed to process message", "error", err)
		return s.writeLine(replyFailed)
	}

	s.recorder.Append(msg)
	if s.publisher != nil {
		s.publisher.Publish(msg)
	}

	s.logger.Info("message captured",
		"id", msg.ID,
		"from", msg.From,
		"recipients", len(msg.To),
		"subject", msg.Subject,
		"size", len(raw),
	)
	return s.writeLine(replyAccepted)
}

// resetTransaction clears the envelope and any buffered data.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	s.dataBuffer.Reset()
	s.state = stateReady
}

func (s *Session) envelopeState() state {
	return envelopeStates[b2i(s.mailFrom != "")][b2i(len(s.rcptTo) > 0)]
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) error {
	line := format
	if len(args) > 0 {
		line = fmt.Sprintf(format, args...)
	}
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("failed to write to client: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush to client: %w", err)
	}
	return nil
}

// parseCommand splits an SMTP command line into the upper-cased verb and
// its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// extractAddress trims an SMTP path and strips every angle bracket.
func extractAddress(s string) string {
	return angleBrackets.Replace(strings.TrimSpace(s))
}

func trimLineEnding(line string) string {
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
