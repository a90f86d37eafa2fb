// Package appserver drives the agent through its long-running app
// server: newline-delimited JSON over a unix socket. This is the
// preferred transport; it supports pausing a turn on an approval and
// answering it on the same connection.
package appserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

// Config controls the app server connection.
type Config struct {
	SocketPath   string
	ProbeTimeout time.Duration
}

// Transport implements core.Transport over the app server socket. Each
// turn gets its own connection; the status probe uses a short-lived one.
type Transport struct {
	cfg Config
	log pslog.Logger
}

// New constructs the app server transport.
func New(cfg Config, logger pslog.Logger) (*Transport, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("app server socket path is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Transport{cfg: cfg, log: logger}, nil
}

// Kind reports the app server transport kind.
func (t *Transport) Kind() schema.TransportKind {
	return schema.TransportAppServer
}

type request struct {
	Method       string           `json:"method"`
	Prompt       string           `json:"prompt,omitempty"`
	Messages     []schema.Message `json:"messages,omitempty"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Model        string           `json:"model,omitempty"`
	Cwd          string           `json:"cwd,omitempty"`
	ScopeRoots   []string         `json:"scope_roots,omitempty"`
	CallID       string           `json:"call_id,omitempty"`
	Approved     *bool            `json:"approved,omitempty"`
}

type statusReply struct {
	AppServer bool   `json:"app_server"`
	LoggedIn  bool   `json:"logged_in"`
	Detail    string `json:"detail,omitempty"`
}

// Readiness probes the app server. A dead socket is a report, not an
// error: callers decide whether to fall back.
func (t *Transport) Readiness(ctx context.Context) (schema.ReadinessReport, error) {
	dialer := net.Dialer{Timeout: t.cfg.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.cfg.SocketPath)
	if err != nil {
		return schema.ReadinessReport{Detail: err.Error()}, nil
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(t.cfg.ProbeTimeout))

	if err := writeLine(conn, request{Method: "status"}); err != nil {
		return schema.ReadinessReport{Detail: err.Error()}, nil
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return schema.ReadinessReport{Detail: err.Error()}, nil
	}
	var reply statusReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return schema.ReadinessReport{Detail: "malformed status reply"}, nil
	}
	return schema.ReadinessReport{
		AppServer: reply.AppServer,
		LoggedIn:  reply.LoggedIn,
		Detail:    reply.Detail,
	}, nil
}

// Run opens a turn connection and sends the start request. The stream
// carries agent events until the server closes the connection.
func (t *Transport) Run(ctx context.Context, req core.TurnRunRequest) (core.TurnHandle, error) {
	if req.Prompt == "" {
		return nil, schema.ErrEmptyPrompt
	}
	dialer := net.Dialer{Timeout: t.cfg.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.cfg.SocketPath)
	if err != nil {
		return nil, core.NewTransportError(core.TransportErrorUnavailable, "dial", err)
	}
	start := request{
		Method:       "turn.start",
		Prompt:       req.Prompt,
		Messages:     req.Messages,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Cwd:          req.WorkingDir,
		ScopeRoots:   req.ScopeRoots,
	}
	if err := writeLine(conn, start); err != nil {
		_ = conn.Close()
		return nil, core.NewTransportError(core.TransportErrorProtocol, "turn.start", err)
	}
	if t.log != nil {
		t.log.Info("app server turn started", "socket", t.cfg.SocketPath, "prompt_len", len(req.Prompt))
	}
	return &turnHandle{
		conn:   conn,
		stream: &eventStream{reader: bufio.NewReader(conn)},
		log:    t.log,
	}, nil
}

type turnHandle struct {
	conn    net.Conn
	stream  *eventStream
	log     pslog.Logger
	writeMu sync.Mutex
	closed  bool
}

func (h *turnHandle) Events() core.EventStream {
	return h.stream
}

// Approve answers a pending turn.proposal event on the turn connection.
func (h *turnHandle) Approve(ctx context.Context, callID string, approved bool) error {
	_ = ctx
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed {
		return core.NewTransportError(core.TransportErrorProtocol, "turn.approve", fmt.Errorf("connection closed"))
	}
	return writeLine(h.conn, request{Method: "turn.approve", CallID: callID, Approved: &approved})
}

// Wait returns immediately: the stream's terminal event already
// reported the outcome, and the server closes the connection on its own.
func (h *turnHandle) Wait(ctx context.Context) (core.TurnResult, error) {
	_ = ctx
	return core.TurnResult{}, nil
}

func (h *turnHandle) Close() error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.conn.Close()
}

type eventStream struct {
	reader *bufio.Reader
}

func (s *eventStream) Next(ctx context.Context) (schema.AgentEvent, error) {
	if err := ctx.Err(); err != nil {
		return schema.AgentEvent{}, err
	}
	line, err := s.reader.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		if err == io.EOF {
			return schema.AgentEvent{}, io.EOF
		}
		return schema.AgentEvent{}, core.NewTransportError(core.TransportErrorProtocol, "read", err)
	}
	var event schema.AgentEvent
	if unmarshalErr := json.Unmarshal(line, &event); unmarshalErr != nil {
		return schema.AgentEvent{Type: schema.AgentEventError, Message: string(line)}, nil
	}
	event.Raw = append([]byte(nil), line...)
	return event, nil
}

func (s *eventStream) Close() error {
	return nil
}

func writeLine(conn net.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
