package verify

import (
	"fmt"
	"strings"
	"time"
)

// Fixed verification policy. These are not user-configurable.
const (
	ReceiveTimeout   = 60 * time.Second
	PollInterval     = 5 * time.Second
	LookbackWindow   = 15 * time.Minute
	PostSendGrace    = 5 * time.Second
	DefaultCleanup   = 60 * time.Second
	DefaultSMTPLimit = 30 * time.Second
)

// Outcome messages published through the result store.
const (
	MessageInProgress      = "test in progress"
	MessageSent            = "test email sent, waiting for delivery"
	MessageVerified        = "send and receive verified"
	MessageReceiptUnproven = "test email sent; receipt could not be confirmed within the time limit"
	messageSendFailedFmt   = "failed to send test email: %s"
	messageInternalFmt     = "verification aborted: %v"
)

// Endpoint is one side (SMTP or IMAP) of a candidate mailbox.
type Endpoint struct {
	Host   string
	Port   int
	Secure bool
}

// Address returns host:port, falling back to the protocol default port.
func (e Endpoint) Address(securePort, plainPort int) string {
	port := e.Port
	if port == 0 {
		if e.Secure {
			port = securePort
		} else {
			port = plainPort
		}
	}
	return fmt.Sprintf("%s:%d", e.Host, port)
}

// MailboxConfig carries the candidate mailbox credentials for one test run.
// It is treated as immutable while a test is running.
type MailboxConfig struct {
	Address  string
	Username string
	Password string
	SMTP     Endpoint
	IMAP     Endpoint
}

// Login returns the username used for SMTP/IMAP authentication.
func (c MailboxConfig) Login() string {
	if strings.TrimSpace(c.Username) != "" {
		return c.Username
	}
	return c.Address
}

// Domain returns the part after '@' of the mailbox address.
func (c MailboxConfig) Domain() string {
	if idx := strings.LastIndex(c.Address, "@"); idx >= 0 && idx < len(c.Address)-1 {
		return c.Address[idx+1:]
	}
	return "localhost"
}

// Details records per-phase results of a test run.
type Details struct {
	SendSuccess    bool       `json:"sendSuccess"`
	ReceiveSuccess bool       `json:"receiveSuccess"`
	SendError      *string    `json:"sendError,omitempty"`
	ReceiveError   *string    `json:"receiveError,omitempty"`
	MessageID      *string    `json:"messageId,omitempty"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	TimeTakenMs    *int64     `json:"timeTakenMs,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`
}

// Outcome is the published state of one verification run.
type Outcome struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Details Details `json:"details"`
}

// InProgress returns the initial outcome for a freshly started test.
func InProgress() Outcome {
	return Outcome{Message: MessageInProgress}
}

// Terminal reports whether the outcome will not change anymore.
func (o Outcome) Terminal() bool {
	return o.Details.TimeTakenMs != nil || o.Details.SendError != nil || o.Details.ReceiveError != nil
}

// clone returns a deep copy so readers never share pointers with the writer.
func (o Outcome) clone() Outcome {
	out := o
	out.Details.SendError = copyPtr(o.Details.SendError)
	out.Details.ReceiveError = copyPtr(o.Details.ReceiveError)
	out.Details.MessageID = copyPtr(o.Details.MessageID)
	out.Details.SentAt = copyPtr(o.Details.SentAt)
	out.Details.TimeTakenMs = copyPtr(o.Details.TimeTakenMs)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
