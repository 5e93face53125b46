// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import "os"

// readFileBestEffort serves a file-read request from Adapter B's agent; on
// error it returns empty content rather than propagating the failure,
// per §4.3.
func readFileBestEffort(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// writeFileBestEffort serves a file-write request; write errors are
// ignored and the call still reports success to the agent, per §4.3.
func writeFileBestEffort(path, content string) {
	_ = os.WriteFile(path, []byte(content), 0644)
}
