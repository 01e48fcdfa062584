package verify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type fakeMessage struct {
	uid      imap.UID
	subject  string
	date     time.Time
	internal time.Time
	raw      []byte
}

type fakeIMAPClient struct {
	messages []fakeMessage

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	logoutErr error

	searchCriteria *imap.SearchCriteria
	logoutCalls    int
	closeCalls     int
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error { c.closeCalls++; return nil }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.searchCriteria = criteria
	uids := make([]imap.UID, 0, len(c.messages))
	for _, m := range c.messages {
		uids = append(uids, m.uid)
	}
	return &fakeSearch{err: c.searchErr, data: &imap.SearchData{All: imap.UIDSetNum(uids...)}}
}
func (c *fakeIMAPClient) Fetch(_ imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		for _, m := range c.messages {
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       uint32(m.uid),
				UID:          m.uid,
				InternalDate: m.internal,
				Envelope:     &imap.Envelope{Subject: m.subject, Date: m.date},
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: sourceSection,
					Bytes:   append([]byte(nil), m.raw...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return nil, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

// fakeClock advances only when slept on.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2023, 11, 14, 22, 13, 19, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	id      string
	err     error
	failFor map[string]error
	release chan struct{}
	panics  bool
	calls   int
}

func (s *fakeSender) Send(ctx context.Context, cfg MailboxConfig, testID string) (string, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", &SendError{Stage: "connect", Err: ctx.Err()}
		}
	}
	if s.panics {
		panic("smtp exploded")
	}
	if err, ok := s.failFor[cfg.Address]; ok {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	return s.id, nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeReceiver struct {
	mu       sync.Mutex
	result   PollResult
	foundFor map[string]bool
	calls    int
	onPoll   func(testID string)
}

func (r *fakeReceiver) Poll(_ context.Context, cfg MailboxConfig, testID string) PollResult {
	r.mu.Lock()
	r.calls++
	onPoll := r.onPoll
	res := r.result
	if found, ok := r.foundFor[cfg.Address]; ok {
		res.Found = found
	}
	r.mu.Unlock()
	if onPoll != nil {
		onPoll(testID)
	}
	return res
}

func (r *fakeReceiver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeActivator struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (a *fakeActivator) Activate(_ context.Context, accountID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, accountID)
	return a.err
}

func (a *fakeActivator) IDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.ids...)
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:2525: connect: connection refused")

func testMailbox(address string) MailboxConfig {
	return MailboxConfig{
		Address:  address,
		Password: "secret",
		SMTP:     Endpoint{Host: "smtp.example.com", Port: 465, Secure: true},
		IMAP:     Endpoint{Host: "imap.example.com", Port: 993, Secure: true},
	}
}
