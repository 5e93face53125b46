// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// initCmd mirrors the teacher's "trellis init" idiom: a short interactive
// prompt session that writes a fully-commented starter HJSON config,
// retargeted from project/service/workflow questions onto worker id, slot
// count, and one adapter entry.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter agendo-workerd.hjson in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			const configFile = "agendo-workerd.hjson"
			if _, err := os.Stat(configFile); err == nil {
				return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
			}

			reader := bufio.NewReader(os.Stdin)

			fmt.Println("Agendo Worker Configuration Setup")
			fmt.Println("==================================")
			fmt.Println()
			fmt.Println("This will create an agendo-workerd.hjson configuration file in the current directory.")
			fmt.Println("Press Enter to accept defaults shown in [brackets].")
			fmt.Println()

			workerID := prompt(reader, "Worker id", "worker-1")
			slotsStr := prompt(reader, "Concurrent session slots", "4")
			slots, err := strconv.Atoi(slotsStr)
			if err != nil || slots < 1 {
				slots = 4
			}
			portStr := prompt(reader, "Server port", "8080")
			port, err := strconv.Atoi(portStr)
			if err != nil {
				port = 8080
			}
			agentID := prompt(reader, "First agent id (adapter key)", "claude")
			binary := prompt(reader, "  Binary for that agent", "claude")

			content := generateConfig(workerID, slots, port, agentID, binary)
			if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}

			fmt.Println()
			fmt.Printf("Created %s\n", configFile)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  1. Review and edit agendo-workerd.hjson as needed")
			fmt.Println("  2. Run: agendo-workerd serve")
			return nil
		},
	}
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(workerID string, slots, port int, agentID, binary string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Agendo Worker Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  // Identity of this worker node; stamped onto every session row this
  // process claims, and onto every structured log line.
  worker_id: "`)
	sb.WriteString(escapeHJSONValue(workerID))
	sb.WriteString(`"

  // Maximum number of concurrently-running session supervisors. A
  // supervisor releases its slot as soon as the child goes idle awaiting
  // input, so this bounds active child processes, not claimed sessions.
  slots: `)
	sb.WriteString(strconv.Itoa(slots))
	sb.WriteString(`

  // Default idle timeout. It is parsed and validated, but the worker does
  // not apply it: a session's idle timer uses the row's own idle timeout,
  // or one hour when the row sets none.
  default_idle_timeout: "30m"

  // Root directory for per-session append-only log files and the local
  // file-backed session/execution stores.
  log_dir: "logs"

  // Zombie re-enqueue ceiling. It is parsed and validated, but the zombie
  // reconciler does not read it: its bound is fixed at 3 re-enqueues,
  // after which a crashing session is left idle.
  zombie_retry_max: 3

  // ---------------------------------------------------------------------------
  // HTTP boundary (session event stream + control intake)
  // ---------------------------------------------------------------------------
  server: {
    host: "127.0.0.1"
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`
  }

  // ---------------------------------------------------------------------------
  // Logging
  // ---------------------------------------------------------------------------
  logging: {
    level: "info"
    format: "json"
  }

  // ---------------------------------------------------------------------------
  // Team inbox. poll_interval is parsed and validated, but the inbox
  // monitor does not poll: it reacts to file-write events only.
  // ---------------------------------------------------------------------------
  team_inbox: {
    poll_interval: "2s"
  }

  // ---------------------------------------------------------------------------
  // Adapters: one entry per agent id a session's AgentID may name.
  // kind is one of "ndjson" (streaming CLI), "jsonrpc" (ACP-style
  // request/response client), or "template" (one-shot invocation).
  // ---------------------------------------------------------------------------
  adapters: {
    `)
	sb.WriteString(escapeHJSONValue(agentID))
	sb.WriteString(`: {
      kind: "ndjson"
      binary: "`)
	sb.WriteString(escapeHJSONValue(binary))
	sb.WriteString(`"

      // Read into the config but not used by the worker; MCP health
      // probing reads only the serve command's --mcp-config flag:
      // mcp_config_path: "mcp-servers.json"
      // strict_mcp_config: false
    }

    // Add more agent ids as needed:
    // codex: {
    //   kind: "template"
    //   command_template: ["codex", "exec", "{{.Prompt}}"]
    // }
  }
}
`)

	return sb.String()
}
