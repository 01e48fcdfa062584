package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// sourceSection requests the full RFC822 source without setting \Seen.
var sourceSection = &imap.FetchItemBodySection{Peek: true}

// PollResult summarizes a receive-phase poll loop.
type PollResult struct {
	Found      bool
	Attempts   int
	MatchedUID uint32
	LastErr    error
}

// Receiver confirms that the verification email arrived.
type Receiver interface {
	Poll(ctx context.Context, cfg MailboxConfig, testID string) PollResult
}

// IMAPPoller repeatedly scans the inbox for the verification email.
type IMAPPoller struct {
	timeout     time.Duration
	interval    time.Duration
	lookback    time.Duration
	dialTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *log.Logger
	metrics     *Metrics
	newClient   func(MailboxConfig) (imapClient, error)
}

// IMAPPollerOption customizes poller behavior.
type IMAPPollerOption func(*IMAPPoller)

// NewIMAPPoller returns a poller using the fixed verification policy.
func NewIMAPPoller(opts ...IMAPPollerOption) *IMAPPoller {
	p := &IMAPPoller{
		timeout:     ReceiveTimeout,
		interval:    PollInterval,
		lookback:    LookbackWindow,
		dialTimeout: 10 * time.Second,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      log.New(log.Writer(), "[IMAP-POLL] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithIMAPLogger overrides the logger used for poll diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithIMAPMetrics records poll attempts.
func WithIMAPMetrics(m *Metrics) IMAPPollerOption {
	return func(p *IMAPPoller) {
		p.metrics = m
	}
}

func withIMAPClientFactory(factory func(MailboxConfig) (imapClient, error)) IMAPPollerOption {
	return func(p *IMAPPoller) {
		p.newClient = factory
	}
}

func withPollClock(now func() time.Time, sleep func(context.Context, time.Duration) error) IMAPPollerOption {
	return func(p *IMAPPoller) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func withPollPolicy(timeout, interval time.Duration) IMAPPollerOption {
	return func(p *IMAPPoller) {
		p.timeout = timeout
		p.interval = interval
	}
}

// VerifyReceived reports whether the verification email arrived within the
// time budget. It never fails; attempt errors are logged and retried.
func (p *IMAPPoller) VerifyReceived(ctx context.Context, cfg MailboxConfig, testID string) bool {
	return p.Poll(ctx, cfg, testID).Found
}

// Poll runs attempts until a match is found, the budget is spent or ctx ends.
func (p *IMAPPoller) Poll(ctx context.Context, cfg MailboxConfig, testID string) PollResult {
	connect := p.newClient
	if connect == nil {
		connect = (&imapDialer{timeout: p.dialTimeout, logger: p.logger}).dial
	}

	var res PollResult
	start := p.now()
	for p.now().Sub(start) < p.timeout {
		res.Attempts++
		match, found, err := p.attempt(ctx, connect, cfg, testID)
		switch {
		case err != nil:
			res.LastErr = err
			p.metrics.pollAttempt("error")
			p.logger.Printf("attempt %d for %s failed: %v", res.Attempts, testID, err)
		case found:
			p.metrics.pollAttempt("match")
			res.Found = true
			res.MatchedUID = match.UID
			p.logger.Printf("found %s on attempt %d (uid %d)", testID, res.Attempts, match.UID)
			return res
		default:
			p.metrics.pollAttempt("miss")
		}

		if p.now().Sub(start) >= p.timeout {
			break
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			res.LastErr = err
			return res
		}
	}
	return res
}

func (p *IMAPPoller) attempt(ctx context.Context, connect func(MailboxConfig) (imapClient, error), cfg MailboxConfig, testID string) (Candidate, bool, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, false, err
	}
	client, err := connect(cfg)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("imap connect: %w", err)
	}
	sess := &imapSession{client: client, logger: p.logger}
	defer sess.close()

	if err := client.Login(cfg.Login(), cfg.Password).Wait(); err != nil {
		return Candidate{}, false, fmt.Errorf("imap auth: %w", err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return Candidate{}, false, fmt.Errorf("imap select INBOX: %w", err)
	}

	since := p.now().Add(-p.lookback)
	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return Candidate{}, false, fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		sess.logout()
		return Candidate{}, false, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{sourceSection},
	}
	bufs, err := client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return Candidate{}, false, fmt.Errorf("imap fetch: %w", err)
	}

	match, found := FindMatch(candidatesFrom(bufs, since), testID)
	sess.logout()
	return match, found, nil
}

// candidatesFrom converts fetch buffers, dropping messages older than since.
func candidatesFrom(bufs []*imapclient.FetchMessageBuffer, since time.Time) []Candidate {
	out := make([]Candidate, 0, len(bufs))
	for _, buf := range bufs {
		if buf == nil {
			continue
		}
		if !buf.InternalDate.IsZero() && buf.InternalDate.Before(since) {
			continue
		}
		c := Candidate{
			UID:  uint32(buf.UID),
			Date: buf.InternalDate,
			Raw:  buf.FindBodySection(sourceSection),
		}
		if buf.Envelope != nil {
			c.Subject = buf.Envelope.Subject
			if !buf.Envelope.Date.IsZero() {
				c.Date = buf.Envelope.Date
			}
		}
		out = append(out, c)
	}
	return out
}

// imapSession closes its client at most once.
type imapSession struct {
	client imapClient
	logger *log.Logger
	closed bool
}

func (s *imapSession) logout() {
	if s.closed {
		return
	}
	if err := s.client.Logout().Wait(); err != nil && s.logger != nil {
		s.logger.Printf("imap logout error: %v", err)
	}
	s.close()
}

func (s *imapSession) close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := s.client.Close(); err != nil && s.logger != nil {
		s.logger.Printf("imap close error: %v", err)
	}
}

// imapDialer opens one connection per poll attempt. Once STARTTLS has been
// refused it stays in plaintext for the rest of the poll.
type imapDialer struct {
	timeout   time.Duration
	logger    *log.Logger
	plaintext bool
}

func (d *imapDialer) dial(cfg MailboxConfig) (imapClient, error) {
	if cfg.IMAP.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	opts := &imapclient.Options{
		Dialer:      &net.Dialer{Timeout: d.timeout},
		TLSConfig:   TLSConfig(cfg.IMAP.Host),
		WordDecoder: wordDecoder,
	}
	addr := cfg.IMAP.Address(993, 143)
	if cfg.IMAP.Secure {
		client, err := imapclient.DialTLS(addr, opts)
		if err != nil {
			return nil, err
		}
		return &imapClientWrapper{Client: client}, nil
	}
	if d.plaintext {
		client, err := imapclient.DialInsecure(addr, opts)
		if err != nil {
			return nil, err
		}
		return &imapClientWrapper{Client: client}, nil
	}
	client, err := imapclient.DialStartTLS(addr, opts)
	if err != nil {
		startTLSErr := err
		client, err = imapclient.DialInsecure(addr, opts)
		if err != nil {
			return nil, err
		}
		d.plaintext = true
		d.logger.Printf("imap starttls to %s failed, using plaintext: %v", addr, startTLSErr)
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
