package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/quizsync/internal/models"
)

// APIError is a non-2xx response from the REST endpoints.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Unwrap maps credential rejections onto ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// API is a thin client for the request/response companion endpoints.
type API struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenSource
}

func NewAPI(baseURL string, hc *http.Client, token TokenSource) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Token: token}
}

// JoinResult is the registered player plus the session it joined.
type JoinResult struct {
	Player models.Player   `json:"player"`
	Game   models.Snapshot `json:"game"`
}

// Snapshot fetches the authoritative session state.
func (a *API) Snapshot(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	var snap models.Snapshot
	err := a.do(ctx, http.MethodGet, "/api/games/"+gameID.String(), nil, false, &snap)
	return snap, err
}

// CreateGame starts a new session of quizID. Requires a host token.
func (a *API) CreateGame(ctx context.Context, quizID uuid.UUID, mode models.SyncMode) (models.Snapshot, error) {
	var snap models.Snapshot
	body := map[string]interface{}{"quiz_id": quizID, "sync_mode": mode}
	err := a.do(ctx, http.MethodPost, "/api/games", body, true, &snap)
	return snap, err
}

// Join registers an anonymous player by join code.
func (a *API) Join(ctx context.Context, code, nickname, avatar string) (JoinResult, error) {
	var res JoinResult
	body := map[string]string{"game_code": code, "nickname": nickname, "avatar": avatar}
	err := a.do(ctx, http.MethodPost, "/api/games/join", body, false, &res)
	return res, err
}

func (a *API) Start(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	return a.hostAction(ctx, gameID, "start")
}

func (a *API) Next(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	return a.hostAction(ctx, gameID, "next")
}

func (a *API) End(ctx context.Context, gameID uuid.UUID) (models.Snapshot, error) {
	return a.hostAction(ctx, gameID, "end")
}

func (a *API) hostAction(ctx context.Context, gameID uuid.UUID, action string) (models.Snapshot, error) {
	var snap models.Snapshot
	err := a.do(ctx, http.MethodPost, "/api/games/"+gameID.String()+"/"+action, nil, true, &snap)
	return snap, err
}

func (a *API) do(ctx context.Context, method, path string, body interface{}, authenticated bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if a.Token == nil {
			return ErrMissingCredential
		}
		token, err := a.Token.Token(ctx)
		if err != nil || token == "" {
			return errors.Join(ErrMissingCredential, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
