package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-mailverify/internal/email/verify"
)

// PasswordEnv supplies the mailbox password when --password is omitted.
const PasswordEnv = "MAILVERIFY_PASSWORD"

var errReceiptUnproven = errors.New("receipt could not be confirmed")

type checkOptions struct {
	mailbox    verify.MailboxConfig
	jsonOutput bool
	strict     bool
	verbose    bool
}

// verifier is the part of verify.Orchestrator the command drives.
type verifier interface {
	Run(ctx context.Context, accountID int64, cfg verify.MailboxConfig) (string, verify.Outcome)
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one send/receive verification against a mailbox",
		Example: `  mailverify check --address ops@example.com --smtp-host smtp.example.com \
    --imap-host imap.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.mailbox.Password == "" {
				opts.mailbox.Password = os.Getenv(PasswordEnv)
			}
			if err := opts.validate(); err != nil {
				return err
			}

			logOut := io.Discard
			if opts.verbose {
				logOut = cmd.ErrOrStderr()
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts, newVerifier(logOut))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mailbox.Address, "address", "", "mailbox address (sender and recipient)")
	f.StringVar(&opts.mailbox.Username, "username", "", "login name if it differs from the address")
	f.StringVar(&opts.mailbox.Password, "password", "", "mailbox password (or set "+PasswordEnv+")")
	f.StringVar(&opts.mailbox.SMTP.Host, "smtp-host", "", "SMTP server host")
	f.IntVar(&opts.mailbox.SMTP.Port, "smtp-port", 0, "SMTP port (default 465 secure, 587 otherwise)")
	f.BoolVar(&opts.mailbox.SMTP.Secure, "smtp-secure", true, "use implicit TLS for SMTP")
	f.StringVar(&opts.mailbox.IMAP.Host, "imap-host", "", "IMAP server host")
	f.IntVar(&opts.mailbox.IMAP.Port, "imap-port", 0, "IMAP port (default 993 secure, 143 otherwise)")
	f.BoolVar(&opts.mailbox.IMAP.Secure, "imap-secure", true, "use implicit TLS for IMAP")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the outcome as JSON")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when receipt is not confirmed")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log protocol progress to stderr")

	return cmd
}

func (o *checkOptions) validate() error {
	switch {
	case o.mailbox.Address == "":
		return errors.New("--address is required")
	case o.mailbox.Password == "":
		return fmt.Errorf("--password or %s is required", PasswordEnv)
	case o.mailbox.SMTP.Host == "":
		return errors.New("--smtp-host is required")
	case o.mailbox.IMAP.Host == "":
		return errors.New("--imap-host is required")
	}
	return nil
}

func newVerifier(logOut io.Writer) verifier {
	return verify.NewOrchestrator(
		verify.NewSMTPSender(verify.WithSMTPLogger(log.New(logOut, "[SMTP-SEND] ", log.LstdFlags))),
		verify.NewIMAPPoller(verify.WithIMAPLogger(log.New(logOut, "[IMAP-POLL] ", log.LstdFlags))),
		verify.NewMemoryStore(),
		nil,
		verify.WithLogger(log.New(logOut, "[MAIL-VERIFY] ", log.LstdFlags)),
	)
}

func runCheck(ctx context.Context, out io.Writer, opts *checkOptions, v verifier) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !opts.jsonOutput {
		fmt.Fprintf(out, "Verifying %s (up to %s)...\n", opts.mailbox.Address, verify.PostSendGrace+verify.ReceiveTimeout)
	}

	testID, outcome := v.Run(ctx, 0, opts.mailbox)

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			TestID string `json:"testId"`
			verify.Outcome
		}{testID, outcome}); err != nil {
			return err
		}
	} else {
		printReport(out, testID, outcome)
	}

	switch {
	case outcome.Details.SendError != nil || !outcome.Success:
		return errors.New(outcome.Message)
	case opts.strict && !outcome.Details.ReceiveSuccess:
		return errReceiptUnproven
	}
	return nil
}

func printReport(out io.Writer, testID string, outcome verify.Outcome) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintfFunc()

	status := func(passed bool, soft bool) string {
		switch {
		case passed:
			return ok("PASS")
		case soft:
			return warn("UNCONFIRMED")
		default:
			return fail("FAIL")
		}
	}

	d := outcome.Details
	fmt.Fprintf(out, "Test ID:  %s\n", testID)
	fmt.Fprintf(out, "Send:     %s\n", status(d.SendSuccess, false))
	if d.SendError != nil {
		fmt.Fprintf(out, "          %s\n", fail(*d.SendError))
	}
	if d.SendSuccess {
		fmt.Fprintf(out, "Receive:  %s\n", status(d.ReceiveSuccess, true))
		if d.ReceiveError != nil {
			fmt.Fprintf(out, "          %s\n", warn(*d.ReceiveError))
		}
	}
	if d.MessageID != nil {
		fmt.Fprintf(out, "%s\n", dim("Message-ID: <%s>", *d.MessageID))
	}
	if d.TimeTakenMs != nil {
		fmt.Fprintf(out, "%s\n", dim("Took %s", (time.Duration(*d.TimeTakenMs) * time.Millisecond).String()))
	}
	fmt.Fprintf(out, "Result:   %s\n", outcome.Message)
}
