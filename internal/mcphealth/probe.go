// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcphealth connects to the MCP servers configured for this worker
// and reports which of them are currently unhealthy, for the activity
// tracker's periodic probe (spec.md §4.6).
package mcphealth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Status mirrors the connection-state enum a dashboard would show for an
// MCP server.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisabled     Status = "disabled"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// ServerInfo is the identity an MCP server reports at initialize time.
type ServerInfo struct {
	Name    string
	Version string
}

// ServerConfig describes how to reach one MCP server. Type is inferred by
// ParseConfigFile: a URL means remote/SSE, a Command means stdio.
type ServerConfig struct {
	Enabled     bool
	URL         string
	Headers     map[string]string
	Command     []string
	Environment map[string]string
	Timeout     time.Duration
}

type serverState struct {
	name       string
	cfg        ServerConfig
	session    *sdkmcp.ClientSession
	status     Status
	err        string
	serverInfo *ServerInfo
}

// Prober holds live connections to a session's configured MCP servers and
// can be re-probed on a timer. It is the concrete type supervisor.Config
// wires in as activity.MCPHealthFunc via Prober.Unhealthy.
//
// Grounded on go-opencode's internal/mcp/client.go Client, trimmed to the
// connect/ping/status concerns a liveness probe needs — no tool execution
// or resource listing, since the activity tracker only asks "who's down".
type Prober struct {
	mu        sync.RWMutex
	sdkClient *sdkmcp.Client
	servers   map[string]*serverState
	log       zerolog.Logger
}

// New builds a Prober over the given server configs. Call Connect before
// the first Unhealthy probe.
func New(servers map[string]ServerConfig, log zerolog.Logger) *Prober {
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "agendo-workerd",
		Version: "1.0.0",
	}, nil)

	states := make(map[string]*serverState, len(servers))
	for name, cfg := range servers {
		states[name] = &serverState{name: name, cfg: cfg, status: StatusDisconnected}
	}

	return &Prober{sdkClient: sdkClient, servers: states, log: log}
}

// Connect dials every enabled server. A server that fails to connect is
// recorded as StatusFailed rather than aborting the whole probe — one
// flaky MCP server must never block session startup.
func (p *Prober) Connect(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, s := range p.servers {
		if !s.cfg.Enabled {
			s.status = StatusDisabled
			continue
		}
		if err := p.connectLocked(ctx, s); err != nil {
			s.status = StatusFailed
			s.err = err.Error()
			p.log.Warn().Err(err).Str("mcp_server", name).Msg("mcp server connect failed")
		}
	}
}

func (p *Prober) connectLocked(ctx context.Context, s *serverState) error {
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := buildTransport(s.cfg, timeout)
	if err != nil {
		return err
	}

	session, err := p.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.session = session
	s.status = StatusConnected
	s.err = ""
	if init := session.InitializeResult(); init != nil {
		s.serverInfo = &ServerInfo{Name: init.ServerInfo.Name, Version: init.ServerInfo.Version}
	}
	return nil
}

func buildTransport(cfg ServerConfig, timeout time.Duration) (sdkmcp.Transport, error) {
	if cfg.URL != "" {
		return &sdkmcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: &http.Client{Timeout: timeout},
		}, nil
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("mcphealth: server has neither url nor command")
	}
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return &sdkmcp.CommandTransport{Command: cmd}, nil
}

// Unhealthy re-pings every previously-connected server with a short
// tools/list round trip and returns the names of enabled servers that are
// not StatusConnected; disabled servers are never reported. It satisfies
// activity.MCPHealthFunc.
func (p *Prober) Unhealthy(ctx context.Context) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var unhealthy []string
	for name, s := range p.servers {
		if s.status == StatusDisabled {
			continue
		}
		if s.session == nil {
			unhealthy = append(unhealthy, name)
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := s.session.ListTools(pingCtx, nil)
		cancel()

		if err != nil {
			s.status = StatusDisconnected
			s.err = err.Error()
			unhealthy = append(unhealthy, name)
			continue
		}
		s.status = StatusConnected
		s.err = ""
	}
	return unhealthy
}

// Status returns a point-in-time snapshot, used by the dashboard boundary
// rather than the health probe itself.
func (p *Prober) Status() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Status, len(p.servers))
	for name, s := range p.servers {
		out[name] = s.status
	}
	return out
}

// Close disconnects every connected server.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.servers {
		if s.session != nil {
			s.session.Close()
		}
	}
	return nil
}

// ParseConfigFile loads an MCP config JSON document in the
// `{"mcpServers": {"name": {"command": [...], "env": {...}}}}` shape. The
// worker reads it from the serve command's --mcp-config flag into one
// worker-wide Prober; the file is not handed to the agent children.
func ParseConfigFile(path string) (map[string]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcphealth: read config: %w", err)
	}

	var doc struct {
		MCPServers map[string]struct {
			Command  []string          `json:"command"`
			Args     []string          `json:"args"`
			Env      map[string]string `json:"env"`
			URL      string            `json:"url"`
			Headers  map[string]string `json:"headers"`
			Disabled *bool             `json:"disabled"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mcphealth: parse config: %w", err)
	}

	out := make(map[string]ServerConfig, len(doc.MCPServers))
	for name, raw := range doc.MCPServers {
		enabled := raw.Disabled == nil || !*raw.Disabled
		cmd := raw.Command
		if len(raw.Args) > 0 {
			cmd = append(append([]string{}, cmd...), raw.Args...)
		}
		out[name] = ServerConfig{
			Enabled:     enabled,
			URL:         raw.URL,
			Headers:     raw.Headers,
			Command:     cmd,
			Environment: raw.Env,
		}
	}
	return out, nil
}
