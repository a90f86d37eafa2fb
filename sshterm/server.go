// Package sshterm attaches SSH clients to steward terminal sessions. A
// connected client sees the session's buffered tail, receives live
// output, and forwards keystrokes and window resizes. Detaching leaves
// the session running.
package sshterm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"text/tabwriter"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/steward/core"
	"pkt.systems/steward/internal/logx"
	"pkt.systems/steward/schema"
)

// Server exposes terminal session attach over SSH.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     core.Service
	AuthStore   LoginAuthStore
	logger      pslog.Logger
}

// LoginAuthStore validates SSH login credentials.
type LoginAuthStore interface {
	HasLoginPubKey(userID schema.UserID, key ssh.PublicKey) (bool, error)
	ValidateTOTP(username string, totpCode string) error
}

type authContextKey string

const loginPubKeyOK authContextKey = "login-pubkey-ok"

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	if s.AuthStore == nil {
		return errors.New("auth store is required for SSH")
	}

	server := &gliderssh.Server{
		Addr:                       s.Addr,
		Handler:                    s.handleSession,
		PublicKeyHandler:           s.handlePublicKey,
		KeyboardInteractiveHandler: s.handleKeyboardInteractive,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	fingerprint := ssh.FingerprintSHA256(key)
	remote := remoteAddr(ctx)
	userID := schema.UserID(ctx.User())
	sshSession := ctx.SessionID()
	if userID == "" {
		log.Warn("ssh pubkey rejected", "reason", "missing user", "remote", remote, "ssh_session", sshSession, "fingerprint", fingerprint)
		return false
	}
	log = log.With("user", userID, "remote", remote, "fingerprint", fingerprint)
	if sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ok, err := s.AuthStore.HasLoginPubKey(userID, key)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return false
	}
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	ctx.SetValue(loginPubKeyOK, true)
	log.Info("ssh pubkey accepted")
	return false
}

func (s *Server) handleKeyboardInteractive(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
	if ctx.Value(loginPubKeyOK) != true {
		return false
	}
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	remote := remoteAddr(ctx)
	userID := schema.UserID(ctx.User())
	sshSession := ctx.SessionID()
	if userID != "" {
		log = log.With("user", userID, "remote", remote)
		if sshSession != "" {
			log = log.With("ssh_session", sshSession)
		}
	}
	answers, err := challenger(ctx.User(), "", []string{"Verification code: "}, []bool{false})
	if err != nil {
		log.Warn("ssh totp rejected", "reason", "challenge failed", "err", err)
		return false
	}
	if len(answers) != 1 {
		log.Warn("ssh totp rejected", "reason", "invalid answer count", "count", len(answers))
		return false
	}
	if err := s.AuthStore.ValidateTOTP(ctx.User(), answers[0]); err != nil {
		log.Warn("ssh totp rejected", "reason", "invalid code", "err", err)
		return false
	}
	log.Info("ssh totp accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	userID := schema.UserID(sess.User())
	if userID == "" {
		log.Info("ssh session rejected", "reason", "missing user", "remote", sess.RemoteAddr().String())
		_, _ = io.WriteString(sess, "missing user\n")
		return
	}
	remote := sess.RemoteAddr().String()
	sshSession := sess.Context().SessionID()
	log = log.With("user", userID, "remote", remote)
	if sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	ctx := logx.ContextWithUserLogger(sess.Context(), log, userID)

	command := sess.Command()
	if len(command) > 0 && command[0] == "list" {
		s.writeSessionList(ctx, sess, userID)
		return
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		return
	}

	var requested schema.SessionID
	if len(command) > 0 {
		requested = schema.SessionID(command[0])
	}
	sessionID, err := s.resolveSession(ctx, userID, requested, pty.Window.Width, pty.Window.Height)
	if err != nil {
		log.Warn("ssh attach failed", "err", err)
		fmt.Fprintf(sess, "attach failed: %v\r\n", err)
		return
	}
	log = log.With("session", sessionID)

	log.Info("ssh session attached", "term", pty.Term)
	attach := &attachment{
		service:   s.Service,
		userID:    userID,
		sessionID: sessionID,
		rw:        sess,
		log:       log,
	}
	exitCode := attach.run(ctx, winCh)
	if exitCode != nil {
		fmt.Fprintf(sess, "\r\n[session exited with code %d]\r\n", *exitCode)
	} else {
		_, _ = io.WriteString(sess, "\r\n[detached]\r\n")
	}
	log.Info("ssh session detached")
}

// resolveSession picks the session to attach: the requested one, the
// active one, or a fresh shell when the user has none running.
func (s *Server) resolveSession(ctx context.Context, userID schema.UserID, requested schema.SessionID, cols, rows int) (schema.SessionID, error) {
	if requested != "" {
		return requested, nil
	}
	list, err := s.Service.ListTerminals(ctx, schema.ListTerminalsRequest{UserID: userID})
	if err != nil {
		return "", err
	}
	if list.ActiveSession != "" {
		for _, session := range list.Sessions {
			if session.ID == list.ActiveSession && session.Running {
				return session.ID, nil
			}
		}
	}
	for _, session := range list.Sessions {
		if session.Running {
			return session.ID, nil
		}
	}
	started, err := s.Service.StartTerminal(ctx, schema.StartTerminalRequest{
		UserID:    userID,
		SetActive: true,
	})
	if err != nil {
		return "", err
	}
	if cols > 0 && rows > 0 {
		_ = s.Service.ResizeTerminal(ctx, schema.ResizeTerminalRequest{
			UserID:    userID,
			SessionID: started.Session.ID,
			Cols:      cols,
			Rows:      rows,
		})
	}
	return started.Session.ID, nil
}

func (s *Server) writeSessionList(ctx context.Context, out io.Writer, userID schema.UserID) {
	list, err := s.Service.ListTerminals(ctx, schema.ListTerminalsRequest{UserID: userID})
	if err != nil {
		fmt.Fprintf(out, "list failed: %v\n", err)
		return
	}
	sessions := append([]schema.TerminalSnapshot(nil), list.Sessions...)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	writer := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tSTATE\tCWD")
	for _, session := range sessions {
		state := "exited"
		if session.Running {
			state = "running"
		}
		if session.Degraded {
			state = "degraded"
		}
		marker := ""
		if session.ID == list.ActiveSession {
			marker = "*"
		}
		fmt.Fprintf(writer, "%s%s\t%s\t%s\t%s\n", session.ID, marker, session.Name, state, session.Cwd)
	}
	_ = writer.Flush()
	if len(sessions) == 0 {
		_, _ = io.WriteString(out, "no sessions\n")
	}
}
