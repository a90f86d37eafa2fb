// Package termsession manages interactive PTY-backed terminal sessions:
// spawn or reuse, bounded scrollback, viewer fanout, and exit tracking.
package termsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

const watchDepth = 64

// Profile names a preconfigured command a session can run.
type Profile struct {
	Command string
	Args    []string
	Env     []string
	Cwd     string
}

// Config describes manager-wide defaults.
type Config struct {
	Shell          string
	BufferMaxBytes int
	Profiles       map[schema.ProfileID]Profile
}

// Manager owns all terminal sessions. It satisfies the core service's
// terminal interface.
type Manager struct {
	cfg      Config
	onNotice func(schema.SessionNotice)
	log      pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]*session
	active   schema.SessionID
}

type session struct {
	id             schema.SessionID
	name           string
	profile        schema.ProfileID
	userID         schema.UserID
	cmd            *exec.Cmd
	ptyFile        *os.File
	cwd            string
	shell          string
	running        bool
	degraded       bool
	fallbackReason string
	createdAt      time.Time
	lastActivity   time.Time
	exitCode       *int

	buffer  []byte
	subs    map[int]chan schema.TerminalStreamEvent
	nextSub int
}

// New constructs a manager. onNotice may be nil.
func New(cfg Config, onNotice func(schema.SessionNotice), logger pslog.Logger) *Manager {
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}
	if cfg.BufferMaxBytes <= 0 {
		cfg.BufferMaxBytes = schema.DefaultTerminalBufferBytes
	}
	return &Manager{
		cfg:      cfg,
		onNotice: onNotice,
		log:      logger,
		sessions: make(map[schema.SessionID]*session),
	}
}

// Start spawns a session, or returns a running one with the same cwd and
// profile when reuse is requested. A spawn failure yields a degraded
// session record instead of an error so viewers can see what happened.
func (m *Manager) Start(ctx context.Context, req schema.StartTerminalRequest) (schema.StartTerminalResponse, error) {
	command, args, env, cwd := m.resolveLaunch(req)

	// The reuse scan, the spawn, and the registration share one critical
	// section; concurrent reuse starts for the same cwd and profile must
	// not both miss the scan and spawn duplicate shells.
	m.mu.Lock()
	if req.Reuse {
		for _, existing := range m.sessions {
			if existing.running && existing.cwd == cwd && existing.profile == req.Profile {
				if req.SetActive {
					m.active = existing.id
				}
				snapshot := existing.snapshot()
				m.mu.Unlock()
				if m.log != nil {
					m.log.Debug("terminal session reused", "session", snapshot.ID, "cwd", cwd)
				}
				return schema.StartTerminalResponse{Reused: true, Session: snapshot}, nil
			}
		}
	}

	sess := &session{
		id:           schema.SessionID(newSessionID()),
		name:         req.Name,
		profile:      req.Profile,
		userID:       req.UserID,
		cwd:          cwd,
		shell:        command,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		subs:         make(map[int]chan schema.TerminalStreamEvent),
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)
	ptyFile, err := pty.Start(cmd)
	if err != nil {
		sess.degraded = true
		sess.fallbackReason = fmt.Sprintf("spawn failed: %v", err)
		code := -1
		sess.exitCode = &code
		m.sessions[sess.id] = sess
		m.mu.Unlock()
		if m.log != nil {
			m.log.Warn("terminal spawn failed", "session", sess.id, "command", command, "err", err)
		}
		return schema.StartTerminalResponse{Session: sess.snapshot()}, nil
	}
	sess.cmd = cmd
	sess.ptyFile = ptyFile
	sess.running = true
	m.sessions[sess.id] = sess
	if req.SetActive || m.active == "" {
		m.active = sess.id
	}
	snapshot := sess.snapshot()
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("terminal session started", "session", sess.id, "pid", cmd.Process.Pid, "command", command, "cwd", cwd)
	}
	m.notify(schema.SessionNotice{UserID: req.UserID, Type: schema.SessionNoticeStarted, Session: snapshot, At: time.Now()})
	go m.pump(sess)
	return schema.StartTerminalResponse{Session: snapshot}, nil
}

// SendInput forwards viewer bytes to the PTY.
func (m *Manager) SendInput(ctx context.Context, req schema.SendTerminalInputRequest) error {
	m.mu.Lock()
	sess := m.sessions[req.SessionID]
	if sess == nil {
		m.mu.Unlock()
		return schema.ErrSessionNotFound
	}
	if !sess.running {
		m.mu.Unlock()
		return fmt.Errorf("terminal session %s has exited", req.SessionID)
	}
	ptyFile := sess.ptyFile
	sess.lastActivity = time.Now()
	m.mu.Unlock()

	_, err := ptyFile.WriteString(req.Data)
	return err
}

// Resize adjusts the PTY window. Resizes racing a process exit are
// swallowed; the viewer is about to receive the exit event anyway.
func (m *Manager) Resize(ctx context.Context, req schema.ResizeTerminalRequest) error {
	if req.Cols <= 0 || req.Rows <= 0 {
		return schema.ErrInvalidRequest
	}
	m.mu.Lock()
	sess := m.sessions[req.SessionID]
	if sess == nil {
		m.mu.Unlock()
		return schema.ErrSessionNotFound
	}
	if !sess.running {
		m.mu.Unlock()
		return nil
	}
	ptyFile := sess.ptyFile
	m.mu.Unlock()

	if err := pty.Setsize(ptyFile, &pty.Winsize{Cols: uint16(req.Cols), Rows: uint16(req.Rows)}); err != nil {
		m.mu.Lock()
		stillRunning := sess.running
		m.mu.Unlock()
		if !stillRunning {
			return nil
		}
		return err
	}
	return nil
}

// Stop terminates the session process. Stopping an exited session is a
// no-op reporting Stopped=false.
func (m *Manager) Stop(ctx context.Context, req schema.StopTerminalRequest) (schema.StopTerminalResponse, error) {
	m.mu.Lock()
	sess := m.sessions[req.SessionID]
	if sess == nil {
		m.mu.Unlock()
		return schema.StopTerminalResponse{}, schema.ErrSessionNotFound
	}
	if !sess.running {
		snapshot := sess.snapshot()
		m.mu.Unlock()
		return schema.StopTerminalResponse{Stopped: false, Session: snapshot}, nil
	}
	cmd := sess.cmd
	m.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	// The pump goroutine observes the exit and finalizes state; give it a
	// moment, then force the kill if the process ignored the signal.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		running := sess.running
		m.mu.Unlock()
		if !running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	m.mu.Lock()
	if sess.running && cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	m.mu.Unlock()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		running := sess.running
		m.mu.Unlock()
		if !running {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	m.mu.Lock()
	snapshot := sess.snapshot()
	m.mu.Unlock()
	if m.log != nil {
		m.log.Info("terminal session stopped", "session", sess.id)
	}
	m.notify(schema.SessionNotice{UserID: req.UserID, Type: schema.SessionNoticeStopped, Session: snapshot, At: time.Now()})
	return schema.StopTerminalResponse{Stopped: true, Session: snapshot}, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List(ctx context.Context, req schema.ListTerminalsRequest) (schema.ListTerminalsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]schema.TerminalSnapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess.snapshot())
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return schema.ListTerminalsResponse{Sessions: sessions, ActiveSession: m.active}, nil
}

// Watch attaches a viewer: one snapshot event carrying the scrollback,
// then live output chunks, then an exit event. An exited session yields
// snapshot plus exit and a closed channel.
func (m *Manager) Watch(ctx context.Context, userID schema.UserID, id schema.SessionID) (<-chan schema.TerminalStreamEvent, func(), error) {
	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil {
		m.mu.Unlock()
		return nil, nil, schema.ErrSessionNotFound
	}
	ch := make(chan schema.TerminalStreamEvent, watchDepth)
	ch <- schema.TerminalStreamEvent{
		Type:    schema.TerminalStreamSnapshot,
		Session: sess.snapshot(),
		Buffer:  append([]byte(nil), sess.buffer...),
	}
	if !sess.running {
		ch <- schema.TerminalStreamEvent{
			Type:     schema.TerminalStreamExit,
			Session:  sess.snapshot(),
			ExitCode: sess.exitCode,
		}
		close(ch)
		m.mu.Unlock()
		return ch, func() {}, nil
	}
	subID := sess.nextSub
	sess.nextSub++
	sess.subs[subID] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if existing, ok := sess.subs[subID]; ok && existing == ch {
				delete(sess.subs, subID)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// pump copies PTY output into the ring buffer and to every viewer until
// the process exits.
func (m *Manager) pump(sess *session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptyFile.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			m.mu.Lock()
			sess.buffer = appendBounded(sess.buffer, chunk, m.cfg.BufferMaxBytes)
			sess.lastActivity = time.Now()
			event := schema.TerminalStreamEvent{
				Type:    schema.TerminalStreamOutput,
				Session: sess.snapshot(),
				Chunk:   chunk,
			}
			for _, sub := range sess.subs {
				select {
				case sub <- event:
				default:
				}
			}
			m.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	m.finalize(sess)
}

func (m *Manager) finalize(sess *session) {
	code := 0
	if err := sess.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	_ = sess.ptyFile.Close()

	m.mu.Lock()
	sess.running = false
	sess.exitCode = &code
	sess.lastActivity = time.Now()
	snapshot := sess.snapshot()
	event := schema.TerminalStreamEvent{
		Type:     schema.TerminalStreamExit,
		Session:  snapshot,
		ExitCode: &code,
	}
	for _, sub := range sess.subs {
		select {
		case sub <- event:
		default:
		}
		close(sub)
	}
	sess.subs = make(map[int]chan schema.TerminalStreamEvent)
	if m.active == sess.id {
		m.active = ""
	}
	userID := sess.userID
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("terminal session exited", "session", sess.id, "exit_code", code)
	}
	m.notify(schema.SessionNotice{UserID: userID, Type: schema.SessionNoticeExited, Session: snapshot, At: time.Now()})
}

func (m *Manager) resolveLaunch(req schema.StartTerminalRequest) (command string, args, env []string, cwd string) {
	cwd = req.Cwd
	if profile, ok := m.cfg.Profiles[req.Profile]; ok && req.Profile != "" {
		command = profile.Command
		args = append(args, profile.Args...)
		env = append(env, profile.Env...)
		if cwd == "" {
			cwd = profile.Cwd
		}
	}
	if req.Command != "" {
		command = req.Command
		args = append([]string(nil), req.Args...)
	}
	if command == "" {
		command = m.cfg.Shell
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	return command, args, env, cwd
}

func (s *session) snapshot() schema.TerminalSnapshot {
	snapshot := schema.TerminalSnapshot{
		ID:             s.id,
		Name:           s.name,
		Profile:        s.profile,
		Cwd:            s.cwd,
		Shell:          s.shell,
		Running:        s.running,
		Degraded:       s.degraded,
		FallbackReason: s.fallbackReason,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		ExitCode:       s.exitCode,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		snapshot.PID = s.cmd.Process.Pid
	}
	return snapshot
}

func (m *Manager) notify(notice schema.SessionNotice) {
	if m.onNotice != nil {
		m.onNotice(notice)
	}
}

func appendBounded(buffer, chunk []byte, max int) []byte {
	buffer = append(buffer, chunk...)
	if len(buffer) > max {
		buffer = append([]byte(nil), buffer[len(buffer)-max:]...)
	}
	return buffer
}

func newSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "term-unknown"
	}
	return hex.EncodeToString(buf[:])
}

func defaultShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return "/bin/sh"
}
