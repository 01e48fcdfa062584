package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("verification service is shutting down")

// AccountActivator persists the verified state of an account.
type AccountActivator interface {
	Activate(ctx context.Context, accountID int64) error
}

// Orchestrator runs send-then-receive verification tests and publishes their
// progress to a ResultStore.
type Orchestrator struct {
	sender   Sender
	receiver Receiver
	store    ResultStore
	accounts AccountActivator

	grace   time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func(time.Time) string
	logger  *log.Logger
	metrics *Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records test lifecycle metrics.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithBaseContext sets the parent context of background tests.
func WithBaseContext(ctx context.Context) OrchestratorOption {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

func withClock(now func() time.Time, sleep func(context.Context, time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func withGrace(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.grace = d
	}
}

func withIDGenerator(gen func(time.Time) string) OrchestratorOption {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// NewOrchestrator wires the pipeline. accounts may be nil when no account
// record backs the test.
func NewOrchestrator(sender Sender, receiver Receiver, store ResultStore, accounts AccountActivator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sender:   sender,
		receiver: receiver,
		store:    store,
		accounts: accounts,
		grace:    PostSendGrace,
		now:      time.Now,
		sleep:    sleepContext,
		newID:    NewTestID,
		logger:   log.New(log.Writer(), "[MAIL-VERIFY] ", log.LstdFlags),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.ctx, o.cancel = context.WithCancel(o.ctx)
	return o
}

// Start publishes an in-progress outcome, launches the test in the
// background and returns its identifier without waiting.
func (o *Orchestrator) Start(accountID int64, cfg MailboxConfig) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	testID := o.newID(o.now())
	o.begin(testID)
	o.inFlight.Inc()
	go o.supervise(testID, accountID, cfg)
	return testID, nil
}

// Run executes a test synchronously and returns its identifier and final outcome.
func (o *Orchestrator) Run(ctx context.Context, accountID int64, cfg MailboxConfig) (testID string, outcome Outcome) {
	testID = o.newID(o.now())
	o.begin(testID)
	defer o.recoverTest(testID, o.now(), &outcome)
	outcome = o.execute(ctx, testID, accountID, cfg)
	return testID, outcome
}

// InFlight returns the number of background tests still running.
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

// Shutdown cancels background tests and waits for them to publish a final state.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d verification tests: %w", o.InFlight(), ctx.Err())
	}
}

func (o *Orchestrator) begin(testID string) {
	o.store.Put(testID, InProgress())
	o.metrics.testStarted()
}

func (o *Orchestrator) supervise(testID string, accountID int64, cfg MailboxConfig) {
	defer o.wg.Done()
	defer o.inFlight.Dec()
	defer o.recoverTest(testID, o.now(), nil)
	o.execute(o.ctx, testID, accountID, cfg)
}

// recoverTest turns a panic inside a test into a terminal failure outcome.
// It must be deferred directly.
func (o *Orchestrator) recoverTest(testID string, start time.Time, out *Outcome) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Printf("verification %s panicked: %v\n%s", testID, r, debug.Stack())
	o.metrics.testPanicked()
	elapsed := o.now().Sub(start)
	o.metrics.testFinished("error", elapsed.Seconds())
	outcome := Outcome{
		Message: fmt.Sprintf(messageInternalFmt, r),
		Details: Details{TimeTakenMs: ptr(elapsed.Milliseconds())},
	}
	o.store.Put(testID, outcome)
	if out != nil {
		*out = outcome
	}
}

func (o *Orchestrator) execute(ctx context.Context, testID string, accountID int64, cfg MailboxConfig) Outcome {
	start := o.now()
	outcome := InProgress()

	messageID, err := o.sender.Send(ctx, cfg, testID)
	if err != nil {
		outcome.Message = fmt.Sprintf(messageSendFailedFmt, err)
		outcome.Details.SendError = ptr(err.Error())
		return o.finish(testID, outcome, start, "send_failed")
	}

	outcome.Message = MessageSent
	outcome.Details.SendSuccess = true
	outcome.Details.MessageID = ptr(messageID)
	outcome.Details.SentAt = ptr(o.now())
	o.store.Put(testID, outcome)

	if err := o.sleep(ctx, o.grace); err != nil {
		o.logger.Printf("grace wait for %s interrupted: %v", testID, err)
	}

	res := o.receiver.Poll(ctx, cfg, testID)
	outcome.Details.Attempts = res.Attempts
	outcome.Success = true
	result := "success"
	if res.Found {
		outcome.Details.ReceiveSuccess = true
		outcome.Message = MessageVerified
	} else {
		outcome.Message = MessageReceiptUnproven
		outcome.Details.ReceiveError = ptr(describeReceiveFailure(res))
		result = "partial"
	}

	o.activate(ctx, testID, accountID)
	return o.finish(testID, outcome, start, result)
}

func (o *Orchestrator) activate(ctx context.Context, testID string, accountID int64) {
	if o.accounts == nil || accountID <= 0 {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.accounts.Activate(actx, accountID); err != nil {
		o.logger.Printf("failed to activate account %d after %s: %v", accountID, testID, err)
	}
}

func (o *Orchestrator) finish(testID string, outcome Outcome, start time.Time, result string) Outcome {
	elapsed := o.now().Sub(start)
	outcome.Details.TimeTakenMs = ptr(elapsed.Milliseconds())
	o.store.Put(testID, outcome)
	o.metrics.testFinished(result, elapsed.Seconds())
	o.logger.Printf("verification %s finished: %s (%s)", testID, result, elapsed.Round(time.Millisecond))
	return outcome
}

func describeReceiveFailure(res PollResult) string {
	msg := fmt.Sprintf("no matching message found after %d attempts", res.Attempts)
	if res.LastErr != nil {
		msg += fmt.Sprintf("; last error: %v", res.LastErr)
	}
	return msg
}
