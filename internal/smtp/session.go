package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/parser"
	"github.com/shineum/postal-relay/internal/provider"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// SessionOptions carries the per-server settings every session shares.
type SessionOptions struct {
	Auth     *Authenticator
	Provider provider.Provider
	Hostname string
	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config
	// MaxMessageSize is the DATA limit in bytes; 0 disables the limit.
	MaxMessageSize int64
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	opts   SessionOptions
	logger *slog.Logger

	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, opts SessionOptions) *Session {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("", "")
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
		opts:   opts,
		logger: slog.Default().With("session", id, "remote", conn.RemoteAddr().String()),
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP postal-relay", s.opts.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 4.3.2 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.logger.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.handleRSET()
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.state = stateGreeted
	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.opts.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.opts.Hostname, arg)
	if s.opts.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.opts.Auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	if s.opts.MaxMessageSize > 0 {
		s.writeLine("250-SIZE %d", s.opts.MaxMessageSize)
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250 ENHANCEDSTATUSCODES")
}

func (s *Session) handleSTARTTLS() {
	if s.opts.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.opts.Auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	switch strings.ToUpper(parts[0]) {
	case "PLAIN":
		s.handleAuthPlain(parts)
	case "LOGIN":
		s.handleAuthLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

func (s *Session) handleAuthPlain(parts []string) {
	var encoded string
	if len(parts) > 1 && parts[1] != "" {
		encoded = parts[1]
	} else {
		s.writeLine("334")
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Error("failed to read AUTH PLAIN response", "error", err)
			return
		}
		encoded = strings.TrimRight(line, "\r\n")
	}

	if encoded == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	if err := s.opts.Auth.VerifyPlain(encoded); err != nil {
		s.logger.Warn("authentication failed", "mechanism", "PLAIN")
		s.writeLine("535 5.7.8 Authentication failed")
		return
	}

	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

func (s *Session) handleAuthLogin() {
	// "Username:"
	s.writeLine("334 VXNlcm5hbWU6")
	userLine, err := s.reader.ReadString('\n')
	if err != nil {
		s.logger.Error("failed to read AUTH LOGIN username", "error", err)
		return
	}
	encodedUser := strings.TrimRight(userLine, "\r\n")
	if encodedUser == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	// "Password:"
	s.writeLine("334 UGFzc3dvcmQ6")
	passLine, err := s.reader.ReadString('\n')
	if err != nil {
		s.logger.Error("failed to read AUTH LOGIN password", "error", err)
		return
	}
	encodedPass := strings.TrimRight(passLine, "\r\n")
	if encodedPass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	if err := s.opts.Auth.VerifyLogin(encodedUser, encodedPass); err != nil {
		s.logger.Warn("authentication failed", "mechanism", "LOGIN")
		s.writeLine("535 5.7.8 Authentication failed")
		return
	}

	s.state = stateAuthOK
	s.writeLine("235 2.7.0 Authentication successful")
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.opts.Auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 5.7.0 Authentication required")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, params := splitPath(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if size, ok := declaredSize(params); ok && s.opts.MaxMessageSize > 0 && size > s.opts.MaxMessageSize {
		s.writeLine("552 5.3.4 Message size exceeds fixed maximum message size")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, _ := splitPath(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		s.logger.Error("error reading DATA", "error", err)
		return
	}
	defer s.resetTransaction()

	if tooLarge {
		s.logger.Warn("message rejected", "reason", "size limit", "limit", s.opts.MaxMessageSize)
		s.writeLine("552 5.3.4 Message size exceeds fixed maximum message size")
		return
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		s.logger.Error("failed to parse message", "error", err)
		s.writeLine("550 5.6.0 Failed to process message")
		return
	}
	applyEnvelope(msg, s.mailFrom, s.rcptTo)

	res, err := s.opts.Provider.Send(ctx, msg)
	if err != nil {
		s.logger.Error("provider send failed",
			"provider", s.opts.Provider.Name(),
			"kind", provider.Kind(err),
			"error", err,
		)
		s.writeLine(replyFor(err))
		return
	}

	s.logger.Info("message relayed",
		"provider", s.opts.Provider.Name(),
		"message_id", res.MessageID,
		"recipients", len(s.rcptTo),
	)
	if res.MessageID == "" {
		s.writeLine("250 2.0.0 OK queued")
		return
	}
	s.writeLine("250 2.0.0 OK queued as %s", res.MessageID)
}

// readData reads the dot-terminated message body. Once the size limit is
// passed the rest of the body is drained and discarded.
func (s *Session) readData() ([]byte, bool, error) {
	var buf strings.Builder
	var size int64
	tooLarge := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		// Dot-stuffing
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		size += int64(len(line))
		if s.opts.MaxMessageSize > 0 && size > s.opts.MaxMessageSize {
			tooLarge = true
		}
		if !tooLarge {
			buf.WriteString(line)
		}
	}

	if tooLarge {
		return nil, true, nil
	}
	return []byte(buf.String()), false, nil
}

func (s *Session) handleRSET() {
	s.resetTransaction()
	s.writeLine("250 OK")
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.opts.Auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		s.logger.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Error("failed to flush to client", "error", err)
	}
}

// applyEnvelope fills a missing From or To from the SMTP envelope and adds
// envelope recipients the headers do not mention as Bcc.
func applyEnvelope(msg *email.Message, mailFrom string, rcptTo []string) {
	if _, ok := msg.Sender(); !ok {
		msg.From = email.Addresses(mailFrom)
	}
	if len(msg.To) == 0 {
		msg.To = email.Addresses(rcptTo...)
		return
	}

	seen := make(map[string]bool)
	for _, list := range [][]email.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, a := range list {
			seen[strings.ToLower(a.Address)] = true
		}
	}
	for _, rcpt := range rcptTo {
		key := strings.ToLower(rcpt)
		if !seen[key] {
			seen[key] = true
			msg.Bcc = append(msg.Bcc, email.Address{Address: rcpt})
		}
	}
}

// replyFor maps a provider error onto an SMTP reply.
func replyFor(err error) string {
	var valErr *provider.ValidationError
	switch {
	case errors.As(err, &valErr):
		return "550 5.6.0 " + valErr.Reason
	case provider.Kind(err) == provider.KindConfiguration:
		return "451 4.3.5 relay not configured"
	default:
		return "451 4.4.1 temporary delivery failure"
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// splitPath separates the address in a MAIL/RCPT argument from any ESMTP
// parameters that follow it.
func splitPath(s string) (string, string) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", ""
		}
		return s[1:end], strings.TrimSpace(s[end+1:])
	}

	addr, params, _ := strings.Cut(s, " ")
	return addr, strings.TrimSpace(params)
}

// declaredSize returns the SIZE= parameter of a MAIL command, if present.
func declaredSize(params string) (int64, bool) {
	for _, p := range strings.Fields(params) {
		k, v, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(k, "SIZE") {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
