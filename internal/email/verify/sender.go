package verify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SendError reports a failed SMTP submission. It is fatal to a test run.
type SendError struct {
	Stage string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Stage, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsSendError reports whether err carries a *SendError.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

func sendFailure(stage string, err error) error {
	return &SendError{Stage: stage, Err: err}
}

// Sender submits the verification email.
type Sender interface {
	Send(ctx context.Context, cfg MailboxConfig, testID string) (string, error)
}

// SMTPSender delivers the verification email to the mailbox's own address.
type SMTPSender struct {
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
	dial    func(ctx context.Context, cfg MailboxConfig) (*smtp.Client, error)
}

// SMTPSenderOption customizes sender behavior.
type SMTPSenderOption func(*SMTPSender)

// NewSMTPSender returns a sender with the default connection timeout.
func NewSMTPSender(opts ...SMTPSenderOption) *SMTPSender {
	s := &SMTPSender{
		timeout: DefaultSMTPLimit,
		now:     time.Now,
		logger:  log.New(log.Writer(), "[SMTP-SEND] ", log.LstdFlags),
	}
	s.dial = s.defaultDial
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSMTPTimeout bounds the whole SMTP conversation.
func WithSMTPTimeout(timeout time.Duration) SMTPSenderOption {
	return func(s *SMTPSender) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSMTPLogger overrides the logger used for sender diagnostics.
func WithSMTPLogger(logger *log.Logger) SMTPSenderOption {
	return func(s *SMTPSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Send transmits the verification email and returns its Message-ID.
func (s *SMTPSender) Send(ctx context.Context, cfg MailboxConfig, testID string) (string, error) {
	if err := validateSendInput(cfg, testID); err != nil {
		return "", sendFailure("validate", err)
	}

	msg := ComposeMessage(cfg, testID)
	raw, err := msg.Render(s.now())
	if err != nil {
		return "", sendFailure("compose", err)
	}

	client, err := s.dial(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if !cfg.SMTP.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(TLSConfig(cfg.SMTP.Host)); err != nil {
				return "", sendFailure("starttls", err)
			}
		}
	}

	if err := authenticate(client, cfg); err != nil {
		return "", sendFailure("auth", err)
	}
	if err := client.Mail(msg.From, nil); err != nil {
		return "", sendFailure("mail", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", sendFailure("rcpt", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", sendFailure("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return "", sendFailure("data", err)
	}
	if err := w.Close(); err != nil {
		return "", sendFailure("data", err)
	}
	if err := client.Quit(); err != nil {
		s.logger.Printf("quit after delivery of %s failed: %v", testID, err)
	}

	s.logger.Printf("sent verification email %s via %s", testID, cfg.SMTP.Host)
	return msg.MessageID, nil
}

func (s *SMTPSender) defaultDial(ctx context.Context, cfg MailboxConfig) (*smtp.Client, error) {
	addr := cfg.SMTP.Address(465, 587)
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, sendFailure("connect", err)
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if cfg.SMTP.Secure {
		tlsConn := tls.Client(conn, TLSConfig(cfg.SMTP.Host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, sendFailure("connect", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, cfg.SMTP.Host)
	if err != nil {
		conn.Close()
		return nil, sendFailure("connect", err)
	}
	return client, nil
}

func authenticate(client *smtp.Client, cfg MailboxConfig) error {
	ok, mechs := client.Extension("AUTH")
	if !ok {
		return errors.New("server does not advertise AUTH")
	}
	var auth sasl.Client
	switch {
	case hasMechanism(mechs, "PLAIN") || !hasMechanism(mechs, "LOGIN"):
		auth = sasl.NewPlainClient("", cfg.Login(), cfg.Password)
	default:
		auth = sasl.NewLoginClient(cfg.Login(), cfg.Password)
	}
	return client.Auth(auth)
}

func hasMechanism(advertised, mech string) bool {
	for _, m := range strings.Fields(advertised) {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}

func validateSendInput(cfg MailboxConfig, testID string) error {
	switch {
	case strings.TrimSpace(testID) == "":
		return errors.New("missing test id")
	case strings.TrimSpace(cfg.Address) == "":
		return errors.New("missing mailbox address")
	case strings.TrimSpace(cfg.SMTP.Host) == "":
		return errors.New("missing smtp host")
	case cfg.Password == "":
		return errors.New("missing mailbox password")
	}
	return nil
}
