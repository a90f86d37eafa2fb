package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/steward/schema"
)

type contextKey int

const (
	userKey contextKey = iota
	loopKey
	turnKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user id if present.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID != "" {
		if current, ok := ctx.Value(userKey).(schema.UserID); ok && current == userID {
			return log
		}
		log = log.With("user", userID)
	}
	return log
}

// WithLoop annotates the logger with user and loop identifiers.
func WithLoop(ctx context.Context, userID schema.UserID, loopID schema.LoopID) pslog.Logger {
	log := WithUser(ctx, userID)
	if loopID != "" {
		if current, ok := ctx.Value(loopKey).(schema.LoopID); ok && current == loopID {
			return log
		}
		log = log.With("loop", loopID)
	}
	return log
}

// WithTurn annotates the logger with user and turn identifiers.
func WithTurn(ctx context.Context, userID schema.UserID, turnID schema.TurnID) pslog.Logger {
	log := WithUser(ctx, userID)
	if turnID != "" {
		if current, ok := ctx.Value(turnKey).(schema.TurnID); ok && current == turnID {
			return log
		}
		log = log.With("turn", turnID)
	}
	return log
}

// WithSession annotates the logger with a terminal session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithProposal annotates the logger with a proposal id when available.
func WithProposal(log pslog.Logger, id schema.ProposalID) pslog.Logger {
	if id != "" {
		log = log.With("proposal", id)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, userID schema.UserID) context.Context {
	if ctx == nil || userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, userID)
}

// ContextWithLoop stores the loop marker on the context for log de-duplication.
func ContextWithLoop(ctx context.Context, loopID schema.LoopID) context.Context {
	if ctx == nil || loopID == "" {
		return ctx
	}
	return context.WithValue(ctx, loopKey, loopID)
}

// ContextWithTurn stores the turn marker on the context for log de-duplication.
func ContextWithTurn(ctx context.Context, turnID schema.TurnID) context.Context {
	if ctx == nil || turnID == "" {
		return ctx
	}
	return context.WithValue(ctx, turnKey, turnID)
}

// ContextWithUserLogger attaches the logger and user marker to the context.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, userID schema.UserID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithUser(ctx, userID)
}

// ContextWithTurnLogger attaches the logger and user/turn markers to the context.
func ContextWithTurnLogger(ctx context.Context, log pslog.Logger, userID schema.UserID, turnID schema.TurnID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTurn(ContextWithUser(ctx, userID), turnID)
}
