package sshterm

import (
	"context"
	"io"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/pslog"
	"pkt.systems/steward/core"
	"pkt.systems/steward/schema"
)

// detachKey is Ctrl+] in the input stream. Everything before it is
// forwarded to the session; the key itself is swallowed.
const detachKey = 0x1d

type attachment struct {
	service   core.Service
	userID    schema.UserID
	sessionID schema.SessionID
	rw        io.ReadWriter
	log       pslog.Logger
}

// run streams session output to the client and forwards input until the
// client detaches, the connection drops, or the session exits. It
// returns the exit code when the session ended, nil on detach.
func (a *attachment) run(ctx context.Context, winCh <-chan gliderssh.Window) *int {
	events, cancel, err := a.service.WatchTerminal(ctx, a.userID, a.sessionID)
	if err != nil {
		if a.log != nil {
			a.log.Warn("terminal watch failed", "err", err)
		}
		return nil
	}
	defer cancel()

	attachCtx, stop := context.WithCancel(ctx)
	defer stop()

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		a.forwardInput(attachCtx)
	}()

	var exitCode *int
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-inputDone:
			break loop
		case event, ok := <-events:
			if !ok {
				break loop
			}
			switch event.Type {
			case schema.TerminalStreamSnapshot:
				if len(event.Buffer) > 0 {
					if _, err := a.rw.Write(event.Buffer); err != nil {
						break loop
					}
				}
				if !event.Session.Running && event.Session.ExitCode != nil {
					exitCode = event.Session.ExitCode
					break loop
				}
			case schema.TerminalStreamOutput:
				if _, err := a.rw.Write(event.Chunk); err != nil {
					break loop
				}
			case schema.TerminalStreamExit:
				exitCode = event.ExitCode
				break loop
			}
		case window, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			_ = a.service.ResizeTerminal(ctx, schema.ResizeTerminalRequest{
				UserID:    a.userID,
				SessionID: a.sessionID,
				Cols:      window.Width,
				Rows:      window.Height,
			})
		}
	}
	stop()
	return exitCode
}

// forwardInput copies client keystrokes into the session until the
// detach key, a read error, or context cancellation.
func (a *attachment) forwardInput(ctx context.Context) {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := a.rw.Read(buf)
		if n > 0 {
			data, detach := splitDetach(buf[:n])
			if len(data) > 0 {
				if sendErr := a.service.SendTerminalInput(ctx, schema.SendTerminalInputRequest{
					UserID:    a.userID,
					SessionID: a.sessionID,
					Data:      string(data),
				}); sendErr != nil {
					if a.log != nil {
						a.log.Debug("terminal input rejected", "err", sendErr)
					}
					return
				}
			}
			if detach {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// splitDetach returns the input up to the detach key and whether the
// detach key was seen.
func splitDetach(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == detachKey {
			return data[:i], true
		}
	}
	return data, false
}
