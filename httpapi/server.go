package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/steward/core"
	"pkt.systems/steward/internal/logx"
	"pkt.systems/steward/internal/workspace"
	"pkt.systems/steward/schema"
)

// Authenticator verifies username, password, and totp.
type Authenticator interface {
	Authenticate(username, password, totp string) error
	ChangePassword(username, currentPassword, totp, newPassword string) error
}

// LoopDirectory exposes the registered workspace loops.
type LoopDirectory interface {
	ListLoops() []workspace.Loop
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	auth     Authenticator
	loops    LoopDirectory
	sessions *sessionStore
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, auth Authenticator, loops LoopDirectory, hub *Hub) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		auth:     auth,
		loops:    loops,
		sessions: newSessionStore(ttl, cfg.SessionFile),
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/chpasswd", s.requireSession(s.handleChangePassword))
	mux.HandleFunc("/api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("/api/loops", s.requireSession(s.handleLoops))
	mux.HandleFunc("/api/readiness", s.requireSession(s.handleReadiness))
	mux.HandleFunc("/api/turns", s.requireSession(s.handleTurns))
	mux.HandleFunc("/api/turns/", s.requireSession(s.handleTurnByID))
	mux.HandleFunc("/api/approvals", s.requireSession(s.handleApprovals))
	mux.HandleFunc("/api/proposals", s.requireSession(s.handleProposals))
	mux.HandleFunc("/api/proposals/", s.requireSession(s.handleProposalByID))
	mux.HandleFunc("/api/trust", s.requireSession(s.handleTrust))
	mux.HandleFunc("/api/terminals", s.requireSession(s.handleTerminals))
	mux.HandleFunc("/api/terminals/", s.requireSession(s.handleTerminalByID))
	mux.HandleFunc("/api/stream", s.requireSession(s.handleStream))

	handler := withRequestLogging(mux, s.lookupSession)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("user", payload.Username)
	if err := s.auth.Authenticate(payload.Username, payload.Password, payload.TOTP); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	token, sess := s.sessions.create(schema.UserID(payload.Username))
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"username": payload.Username})
	log.Info("http login ok")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.userID, "http_session", entry.id)
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID).With("remote", clientIP(r))
	var payload struct {
		CurrentPassword string `json:"current_password"`
		TOTP            string `json:"totp"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chpasswd decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.CurrentPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("current password is required"))
		return
	}
	if strings.TrimSpace(payload.NewPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("new password is required"))
		return
	}
	if payload.NewPassword != payload.ConfirmPassword {
		writeError(w, http.StatusBadRequest, errors.New("passwords do not match"))
		return
	}
	if strings.TrimSpace(payload.TOTP) == "" {
		writeError(w, http.StatusBadRequest, errors.New("totp is required"))
		return
	}
	if err := s.auth.ChangePassword(string(userID), payload.CurrentPassword, payload.TOTP, payload.NewPassword); err != nil {
		log.Warn("http chpasswd failed", "err", err)
		status := http.StatusInternalServerError
		if isAuthError(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http chpasswd ok")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{"username": userID})
}

type loopView struct {
	ID     schema.LoopID `json:"id"`
	Domain schema.Domain `json:"domain"`
	Name   string        `json:"name,omitempty"`
	Root   string        `json:"root"`
}

func (s *Server) handleLoops(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	loops := s.loops.ListLoops()
	views := make([]loopView, 0, len(loops))
	for _, loop := range loops {
		views = append(views, loopView{ID: loop.ID, Domain: loop.Domain, Name: loop.Name, Root: loop.Root})
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": views})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report := s.service.Readiness(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListTurns(r.Context(), schema.ListTurnsRequest{
			UserID: userID,
			LoopID: schema.LoopID(r.URL.Query().Get("loop")),
		})
		if err != nil {
			log.Warn("http turns list failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": resp.Turns})
		log.Debug("http turns list ok", "count", len(resp.Turns))
	case http.MethodPost:
		var payload struct {
			Loop              string           `json:"loop"`
			Domain            string           `json:"domain"`
			Prompt            string           `json:"prompt"`
			Messages          []schema.Message `json:"messages"`
			EditorTarget      string           `json:"editor_target"`
			ScopeOverride     string           `json:"scope_override"`
			AllowExecFallback bool             `json:"allow_exec_fallback"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http turn decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.StartTurn(r.Context(), schema.StartTurnRequest{
			UserID:            userID,
			LoopID:            schema.LoopID(payload.Loop),
			Domain:            schema.Domain(payload.Domain),
			Prompt:            payload.Prompt,
			Messages:          payload.Messages,
			EditorTarget:      payload.EditorTarget,
			ScopeOverride:     schema.ScopeOverrideToken(payload.ScopeOverride),
			AllowExecFallback: payload.AllowExecFallback,
		})
		if err != nil {
			log.Warn("http turn start failed", "err", err)
			writeServiceError(w, err)
			return
		}
		status := http.StatusOK
		if !resp.OK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"ok":        resp.OK,
			"turn_id":   resp.TurnID,
			"message":   resp.Message,
			"readiness": resp.Readiness,
		})
		log.Info("http turn start", "ok", resp.OK, "turn", resp.TurnID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTurnByID(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id, rest := splitResource(r.URL.Path, "/api/turns/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch rest {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp, err := s.service.GetTurn(r.Context(), schema.GetTurnRequest{UserID: userID, TurnID: schema.TurnID(id)})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp.Turn)
	case "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamTurn(w, r, userID, schema.TurnID(id))
	default:
		http.NotFound(w, r)
	}
}

// streamTurn serves a turn's ledger over SSE: the full replay first, then
// live events until the turn finishes or the client goes away. Event ids
// are ledger positions, so Last-Event-ID resumes without duplicates.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, userID schema.UserID, turnID schema.TurnID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithTurn(r.Context(), userID, turnID)
	watch, err := s.service.WatchTurn(r.Context(), schema.GetTurnRequest{UserID: userID, TurnID: turnID})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer watch.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	seq := uint64(0)
	for _, event := range watch.Replay {
		seq++
		if seq <= lastID {
			continue
		}
		_ = writeSSEvent(w, seq, event)
	}
	flusher.Flush()
	log.Info("http turn stream opened", "replay", len(watch.Replay), "live", watch.Events != nil)
	if watch.Events == nil {
		return
	}

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			log.Info("http turn stream closed")
			return
		case event, ok := <-watch.Events:
			if !ok {
				log.Info("http turn stream finished")
				return
			}
			seq++
			_ = writeSSEvent(w, seq, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		Token    string `json:"token"`
		Decision string `json:"decision"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http approval decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ResolveApproval(r.Context(), schema.ResolveApprovalRequest{
		UserID:   userID,
		Token:    schema.ApprovalToken(payload.Token),
		Decision: schema.ApprovalDecision(payload.Decision),
	})
	if err != nil {
		log.Warn("http approval failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionView(resp.OK, resp.Proposal, resp.Message))
	log.Info("http approval resolved", "ok", resp.OK, "proposal", resp.Proposal.ID, "decision", payload.Decision)
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	resp, err := s.service.ListProposals(r.Context(), schema.ListProposalsRequest{
		UserID: userID,
		LoopID: schema.LoopID(r.URL.Query().Get("loop")),
	})
	if err != nil {
		log.Warn("http proposals list failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposals":       resp.Proposals,
		"pending_count":   resp.PendingCount,
		"trust_mode":      resp.TrustMode,
		"last_auto_apply": resp.LastAutoApply,
	})
	log.Debug("http proposals list ok", "count", len(resp.Proposals), "pending", resp.PendingCount)
}

func (s *Server) handleProposalByID(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id, rest := splitResource(r.URL.Path, "/api/proposals/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	log := logx.WithUser(r.Context(), userID).With("proposal", id)
	switch rest {
	case "apply", "reject":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http proposal decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var okResp bool
		var proposal schema.ProposalSnapshot
		var message string
		var err error
		if rest == "apply" {
			var resp schema.ApplyProposalResponse
			resp, err = s.service.ApplyProposal(r.Context(), schema.ApplyProposalRequest{
				UserID: userID,
				ID:     schema.ProposalID(id),
				Token:  schema.ApprovalToken(payload.Token),
			})
			okResp, proposal, message = resp.OK, resp.Proposal, resp.Message
		} else {
			var resp schema.RejectProposalResponse
			resp, err = s.service.RejectProposal(r.Context(), schema.RejectProposalRequest{
				UserID: userID,
				ID:     schema.ProposalID(id),
				Token:  schema.ApprovalToken(payload.Token),
			})
			okResp, proposal, message = resp.OK, resp.Proposal, resp.Message
		}
		if err != nil {
			log.Warn("http proposal resolve failed", "action", rest, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resolutionView(okResp, proposal, message))
		log.Info("http proposal resolve", "action", rest, "ok", okResp)
	case "diff":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		path := r.URL.Query().Get("path")
		if path == "" {
			resp, err := s.service.ProposalDiffFiles(r.Context(), schema.ProposalDiffFilesRequest{
				UserID: userID,
				ID:     schema.ProposalID(id),
			})
			if err != nil {
				log.Warn("http proposal diff failed", "err", err)
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"files": resp.Files})
			return
		}
		resp, err := s.service.ProposalDiffFile(r.Context(), schema.ProposalDiffFileRequest{
			UserID: userID,
			ID:     schema.ProposalID(id),
			Path:   path,
		})
		if err != nil {
			log.Warn("http proposal diff file failed", "path", path, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":       path,
			"patch":      resp.UnifiedPatch,
			"additions":  resp.Additions,
			"deletions":  resp.Deletions,
			"hunk_count": resp.HunkCount,
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		Loop string `json:"loop"`
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http trust decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SetTrustMode(r.Context(), schema.SetTrustModeRequest{
		UserID: userID,
		LoopID: schema.LoopID(payload.Loop),
		Mode:   schema.TrustMode(payload.Mode),
	})
	if err != nil {
		log.Warn("http trust failed", "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": resp.Mode})
	log.Info("http trust mode set", "loop", payload.Loop, "mode", resp.Mode)
}

func (s *Server) handleTerminals(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListTerminals(r.Context(), schema.ListTerminalsRequest{UserID: userID})
		if err != nil {
			log.Warn("http terminals list failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions":       resp.Sessions,
			"active_session": resp.ActiveSession,
		})
	case http.MethodPost:
		var payload struct {
			Reuse     bool     `json:"reuse"`
			Cwd       string   `json:"cwd"`
			Command   string   `json:"command"`
			Args      []string `json:"args"`
			Profile   string   `json:"profile"`
			Name      string   `json:"name"`
			SetActive bool     `json:"set_active"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http terminal decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.StartTerminal(r.Context(), schema.StartTerminalRequest{
			UserID:    userID,
			Reuse:     payload.Reuse,
			Cwd:       payload.Cwd,
			Command:   payload.Command,
			Args:      payload.Args,
			Profile:   schema.ProfileID(payload.Profile),
			Name:      payload.Name,
			SetActive: payload.SetActive,
		})
		if err != nil {
			log.Warn("http terminal start failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reused":  resp.Reused,
			"session": resp.Session,
		})
		log.Info("http terminal start ok", "session", resp.Session.ID, "reused", resp.Reused)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTerminalByID(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id, rest := splitResource(r.URL.Path, "/api/terminals/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	sessionID := schema.SessionID(id)
	log := logx.WithUser(r.Context(), userID).With("session", sessionID)
	switch rest {
	case "input":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Data string `json:"data"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.service.SendTerminalInput(r.Context(), schema.SendTerminalInputRequest{
			UserID:    userID,
			SessionID: sessionID,
			Data:      payload.Data,
		}); err != nil {
			log.Warn("http terminal input failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "resize":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Cols int `json:"cols"`
			Rows int `json:"rows"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.service.ResizeTerminal(r.Context(), schema.ResizeTerminalRequest{
			UserID:    userID,
			SessionID: sessionID,
			Cols:      payload.Cols,
			Rows:      payload.Rows,
		}); err != nil {
			log.Warn("http terminal resize failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "stop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp, err := s.service.StopTerminal(r.Context(), schema.StopTerminalRequest{
			UserID:    userID,
			SessionID: sessionID,
		})
		if err != nil {
			log.Warn("http terminal stop failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stopped": resp.Stopped,
			"session": resp.Session,
		})
		log.Info("http terminal stop ok", "stopped", resp.Stopped)
	case "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.streamTerminal(w, r, userID, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) streamTerminal(w http.ResponseWriter, r *http.Request, userID schema.UserID, sessionID schema.SessionID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID).With("session", sessionID)
	events, cancel, err := s.service.WatchTerminal(r.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	log.Info("http terminal stream opened")
	seq := uint64(0)
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			log.Info("http terminal stream closed")
			return
		case event, ok := <-events:
			if !ok {
				log.Info("http terminal stream finished")
				return
			}
			seq++
			_ = writeSSEvent(w, seq, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	snapshot := s.buildSnapshot(r, userID)
	_ = writeSSEvent(w, 0, StreamEvent{
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(userID, lastID)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event.Seq, event)
		}
		flusher.Flush()
	}

	ch, unsubscribe, _, _ := s.hub.Subscribe(userID)
	defer unsubscribe()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event := <-ch:
			_ = writeSSEvent(w, event.Seq, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(r *http.Request, userID schema.UserID) SnapshotPayload {
	payload := SnapshotPayload{
		Readiness: s.service.Readiness(r.Context()),
	}
	if resp, err := s.service.ListTerminals(r.Context(), schema.ListTerminalsRequest{UserID: userID}); err == nil {
		payload.Sessions = resp.Sessions
		payload.ActiveSession = resp.ActiveSession
	}
	return payload
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := s.sessionToken(r)
		if token == "" {
			log.Warn("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		log = log.With("user", entry.userID, "http_session", entry.id)
		ctx := logx.ContextWithUserLogger(r.Context(), log, entry.userID)
		next(w, r.WithContext(ctx), entry.userID)
	}
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (schema.UserID, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.userID, entry.id
}

// splitResource extracts the resource id and trailing action from a path
// like /api/turns/<id>/stream. rest is empty for the bare resource path.
func splitResource(path, prefix string) (id, rest string) {
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return "", ""
	}
	id, rest, _ = strings.Cut(trimmed, "/")
	return id, strings.TrimSuffix(rest, "/")
}

func resolutionView(ok bool, proposal schema.ProposalSnapshot, message string) map[string]any {
	return map[string]any{
		"ok":       ok,
		"proposal": proposal,
		"message":  message,
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schema.ErrTurnNotFound),
		errors.Is(err, schema.ErrProposalNotFound),
		errors.Is(err, schema.ErrSessionNotFound),
		errors.Is(err, schema.ErrApprovalNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, schema.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func writeSSEvent(w http.ResponseWriter, seq uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	switch strings.TrimSpace(err.Error()) {
	case "invalid credentials", "invalid totp", "user not found":
		return true
	default:
		return false
	}
}
