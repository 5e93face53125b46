// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/mapper"
	"github.com/agendo/workerd/internal/model"
)

// dribbleReader hands back the underlying bytes a handful at a time,
// simulating a child process's stdout pipe delivering a single NDJSON
// line split arbitrarily across several read syscalls.
type dribbleReader struct {
	data []byte
	n    int
}

func (d *dribbleReader) Read(p []byte) (int, error) {
	if len(d.data) == 0 {
		return 0, io.EOF
	}
	n := d.n
	if n > len(d.data) {
		n = len(d.data)
	}
	copied := copy(p, d.data[:n])
	d.data = d.data[copied:]
	return copied, nil
}

func TestReadLoop_ReconstructsLineSplitMidToken(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}` + "\n")
	r := &dribbleReader{data: line, n: 3}

	a := &NDJSON{mapper: mapper.NewNDJSON()}
	var got []model.AgendoEvent
	var exited bool
	a.OnData(func(ev model.AgendoEvent) { got = append(got, ev) })
	a.OnExit(func(ExitInfo) { exited = true })

	a.readLoop(r)

	require.Len(t, got, 1)
	assert.Equal(t, model.EventAgentText, got[0].Type)
	assert.Equal(t, "hi", got[0].Text)
	assert.True(t, exited)
}

func TestReadLoop_NonJSONLinePassesThroughAsText(t *testing.T) {
	r := &dribbleReader{data: []byte("a raw banner line\n"), n: 5}
	a := &NDJSON{mapper: mapper.NewNDJSON()}
	var got []model.AgendoEvent
	a.OnData(func(ev model.AgendoEvent) { got = append(got, ev) })
	a.OnExit(func(ExitInfo) {})

	a.readLoop(r)

	require.Len(t, got, 1)
	assert.Equal(t, model.EventAgentText, got[0].Type)
	assert.Equal(t, "a raw banner line", got[0].Text)
}
