package admin

import (
	"context"
	"time"

	"github.com/Akido22/mmogamelab/internal/presence"
)

// SessionLister lists AppSession records of every application.
type SessionLister interface {
	List(ctx context.Context) ([]presence.AppSession, error)
}

// ActivityReader reads a session's activity log, newest first.
type ActivityReader interface {
	Activities(ctx context.Context, sessionID string, limit int64) ([]presence.Activity, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (presence.SweepStats, error)
}

// ErrorResponse is the body of every failed admin request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	CodeNotFound    = "not_found"
	CodeBadRequest  = "bad_request"
	CodeServerError = "server_error"
)

type SessionResponse struct {
	App       string    `json:"app"`
	Session   string    `json:"session"`
	Character string    `json:"character"`
	State     string    `json:"state"`
	Timeout   time.Time `json:"timeout"`
	Updated   time.Time `json:"updated"`
}

type CharactersOnlineResponse struct {
	App        string   `json:"app"`
	Characters []string `json:"characters"`
}

func toSessionResponse(as presence.AppSession) SessionResponse {
	return SessionResponse{
		App:       as.App,
		Session:   as.Session,
		Character: as.Character,
		State:     as.State.String(),
		Timeout:   as.Timeout,
		Updated:   as.Updated,
	}
}
