package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-mailverify/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mailverify",
		Short: "Mailbox send/receive verification tool",
		Long: `mailverify proves that a mailbox can both send and receive mail.

It submits a uniquely tagged message to the mailbox's own address over SMTP
and then polls the inbox over IMAP until that message shows up.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCheckCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailverify %s\n", version.Full())
		},
	}
}
