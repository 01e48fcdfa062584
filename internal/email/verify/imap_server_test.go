package verify

import (
	"bytes"
	"context"
	"crypto/tls"
	"log"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/require"
)

type imapTransport int

const (
	imapPlainOnly imapTransport = iota
	imapStartTLS
	imapImplicitTLS
)

// startIMAPServer serves user's mailboxes from memory on a loopback port.
func startIMAPServer(t *testing.T, user *imapmemserver.User, transport imapTransport) Endpoint {
	t.Helper()
	mem := imapmemserver.New()
	mem.AddUser(user)

	opts := &imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
		Logger:       quietLogger(),
	}

	var (
		ln  net.Listener
		err error
	)
	switch transport {
	case imapStartTLS:
		opts.TLSConfig = selfSignedServerTLS(t)
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	case imapImplicitTLS:
		ln, err = tls.Listen("tcp", "127.0.0.1:0", selfSignedServerTLS(t))
	default:
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	require.NoError(t, err)

	srv := imapserver.New(opts)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{Host: host, Port: port, Secure: transport == imapImplicitTLS}
}

func newMailboxUser(t *testing.T, address, password string) *imapmemserver.User {
	t.Helper()
	user := imapmemserver.NewUser(address, password)
	require.NoError(t, user.Create("INBOX", nil))
	return user
}

// deliver appends the rendered verification message with the given arrival time.
func deliver(t *testing.T, user *imapmemserver.User, cfg MailboxConfig, testID string, at time.Time) {
	t.Helper()
	raw, err := ComposeMessage(cfg, testID).Render(at)
	require.NoError(t, err)
	_, err = user.Append("INBOX", bytes.NewReader(raw), &imap.AppendOptions{Time: at})
	require.NoError(t, err)
}

func TestIMAPPollerAgainstServer(t *testing.T) {
	tests := []struct {
		name      string
		transport imapTransport
	}{
		{name: "plaintext fallback", transport: imapPlainOnly},
		{name: "starttls", transport: imapStartTLS},
		{name: "implicit tls", transport: imapImplicitTLS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const id = "test-1699999999-a1b2c3d4e5f6"
			user := newMailboxUser(t, "ops@example.com", "secret")
			cfg := MailboxConfig{Address: "ops@example.com", Password: "secret"}
			cfg.IMAP = startIMAPServer(t, user, tt.transport)

			deliver(t, user, cfg, "test-1699999999-000000000000", time.Now().Add(-time.Minute))
			deliver(t, user, cfg, id, time.Now())

			var logs bytes.Buffer
			p := NewIMAPPoller(
				WithIMAPLogger(log.New(&logs, "", 0)),
				WithIMAPDialTimeout(2*time.Second),
				withPollPolicy(2*time.Second, 100*time.Millisecond),
			)
			res := p.Poll(context.Background(), cfg, id)
			require.True(t, res.Found, logs.String())
			require.Equal(t, 1, res.Attempts)
			require.Equal(t, uint32(2), res.MatchedUID)
			require.Equal(t, tt.transport == imapPlainOnly, strings.Contains(logs.String(), "using plaintext"))
		})
	}
}

func TestIMAPPollerIgnoresMessagesOutsideLookback(t *testing.T) {
	const id = "test-1699999999-0ld0ld0ld0ld"
	user := newMailboxUser(t, "ops@example.com", "secret")
	cfg := MailboxConfig{Address: "ops@example.com", Password: "secret"}
	cfg.IMAP = startIMAPServer(t, user, imapPlainOnly)

	// Same test id, but delivered before the lookback window opened.
	deliver(t, user, cfg, id, time.Now().Add(-time.Hour))

	p := NewIMAPPoller(
		WithIMAPLogger(quietLogger()),
		withPollPolicy(time.Second, 100*time.Millisecond),
	)
	res := p.Poll(context.Background(), cfg, id)
	require.False(t, res.Found)
	require.Greater(t, res.Attempts, 1)
	require.NoError(t, res.LastErr)
}

func TestIMAPPollerLogsPlaintextFallbackOnce(t *testing.T) {
	user := newMailboxUser(t, "ops@example.com", "secret")
	cfg := MailboxConfig{Address: "ops@example.com", Password: "secret"}
	cfg.IMAP = startIMAPServer(t, user, imapPlainOnly)

	var logs bytes.Buffer
	p := NewIMAPPoller(
		WithIMAPLogger(log.New(&logs, "", 0)),
		withPollPolicy(500*time.Millisecond, 50*time.Millisecond),
	)
	res := p.Poll(context.Background(), cfg, "test-1-missing")
	require.False(t, res.Found)
	require.Greater(t, res.Attempts, 1)
	require.NoError(t, res.LastErr)
	require.Equal(t, 1, strings.Count(logs.String(), "using plaintext"))
}

func TestIMAPAttemptDecodesFetchedMessage(t *testing.T) {
	const id = "test-1699999999-decode000001"
	user := newMailboxUser(t, "ops@example.com", "secret")
	cfg := MailboxConfig{Address: "ops@example.com", Password: "secret"}
	cfg.IMAP = startIMAPServer(t, user, imapStartTLS)
	deliver(t, user, cfg, id, time.Now())

	p := NewIMAPPoller(WithIMAPLogger(quietLogger()))
	dialer := &imapDialer{timeout: 2 * time.Second, logger: quietLogger()}
	match, found, err := p.attempt(context.Background(), dialer.dial, cfg, id)
	require.NoError(t, err)
	require.True(t, found)

	// The subject is RFC 2047 encoded on the wire.
	require.Equal(t, ComposeMessage(cfg, id).Subject, match.Subject)
	require.True(t, bytes.Contains(match.Raw, []byte("X-Mail-Verify-Test: "+id)))
	require.False(t, match.Date.IsZero())
	require.False(t, dialer.plaintext)
}
