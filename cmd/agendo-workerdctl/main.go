// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// agendo-workerdctl is a command-line tool for driving a running
// agendo-workerd node's control channel and tailing a session's event
// stream, grounded on the teacher's trellis-ctl (flag parsing, one
// subcommand per API operation) but narrowed to the two boundary
// operations spec.md §6 actually names: posting a control message and
// subscribing to the canonical event stream.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agendo/workerd/pkg/workerdclient"
)

var (
	apiURL string
)

func main() {
	root := &cobra.Command{
		Use:     "agendo-workerdctl",
		Short:   "Control a running agendo-workerd node",
		Version: "0.1.0",
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("AGENDO_WORKERD_API", "http://localhost:8080"), "base URL of the agendo-workerd HTTP boundary")

	root.AddCommand(
		messageCmd(),
		cancelCmd(),
		interruptCmd(),
		toolApprovalCmd(),
		setModelCmd(),
		setPermissionModeCmd(),
		streamCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func postControl(sessionID string, ctrl workerdclient.Control) error {
	c := workerdclient.New(apiURL)
	return c.PostControl(context.Background(), sessionID, ctrl)
}

func messageCmd() *cobra.Command {
	var imageRef string
	cmd := &cobra.Command{
		Use:   "message <session-id> <text>",
		Short: "Push a user turn into a running session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "message", Text: args[1], ImageRef: imageRef})
		},
	}
	cmd.Flags().StringVar(&imageRef, "image", "", "path to an image the supervisor should attach to this turn")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel the session's current run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "cancel"})
		},
	}
}

func interruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <session-id>",
		Short: "Softly interrupt the session's in-flight turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "interrupt"})
		},
	}
}

func toolApprovalCmd() *cobra.Command {
	var approvalID, decision string
	cmd := &cobra.Command{
		Use:   "tool-approval <session-id>",
		Short: "Resolve a pending tool-use approval gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "tool-approval", ApprovalID: approvalID, Decision: decision})
		},
	}
	cmd.Flags().StringVar(&approvalID, "approval-id", "", "the approval id from the agent:tool-approval event")
	cmd.Flags().StringVar(&decision, "decision", "allow", "allow, allow-session, or deny")
	cmd.MarkFlagRequired("approval-id")
	return cmd
}

func setModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-model <session-id> <model>",
		Short: "Change the session's model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "set-model", Model: args[1]})
		},
	}
}

func setPermissionModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-permission-mode <session-id> <mode>",
		Short: "Change the session's permission mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postControl(args[0], workerdclient.Control{Type: "set-permission-mode", PermissionMode: args[1]})
		},
	}
}

func streamCmd() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "stream <session-id>",
		Short: "Tail a session's canonical event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := workerdclient.New(apiURL)
			events, err := c.Stream(cmd.Context(), args[0], since)
			if err != nil {
				return err
			}
			for ev := range events {
				fmt.Printf("[%s] %s\n", ev.Type, ev.Data)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "last event id already seen, for resuming after a reconnect")
	return cmd
}
