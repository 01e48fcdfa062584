package verify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
)

// MarkerPhrase is the fixed subject prefix of every verification email.
const MarkerPhrase = "测试邮件"

// TestMessage is the self-addressed verification email for one test.
type TestMessage struct {
	TestID    string
	From      string
	To        string
	Subject   string
	Body      string
	MessageID string
}

// ComposeMessage builds the verification email for testID. It performs no I/O.
func ComposeMessage(cfg MailboxConfig, testID string) TestMessage {
	return TestMessage{
		TestID:  testID,
		From:    cfg.Address,
		To:      cfg.Address,
		Subject: fmt.Sprintf("%s [%s]", MarkerPhrase, testID),
		Body: fmt.Sprintf("This is an automated mailbox verification message.\r\n"+
			"Test ID: %s\r\n"+
			"It can be deleted safely.\r\n", testID),
		MessageID: fmt.Sprintf("%s@%s", testID, cfg.Domain()),
	}
}

// Render serializes the message as RFC 5322 with a quoted-printable UTF-8 body.
func (m TestMessage) Render(date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	h.SetMessageID(m.MessageID)
	h.Set("X-Mail-Verify-Test", m.TestID)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := w.Write([]byte(m.Body)); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// TLSConfig returns the relaxed TLS settings used against candidate servers.
// Self-signed certificates are accepted.
func TLSConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, //nolint:gosec
	}
}
