package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/offlinefirst/todosync/internal/todo"
)

// ErrUnauthorized marks a rejected api_token. It is a session failure, not
// a connectivity failure: never retried, never suppressed.
var ErrUnauthorized = errors.New("client: unauthorized")

// EventsResult is the decoded batch response.
type EventsResult struct {
	IDs    map[todo.NoteID]todo.NoteID
	Errors []json.RawMessage
}

// API is the server surface the sync client depends on.
type API interface {
	FetchNotes(ctx context.Context) ([]todo.Note, error)
	PushEvents(ctx context.Context, batch todo.Batch) (EventsResult, error)
}

// HTTPAPI talks JSON over HTTP to the todosync server, authenticating with
// the api_token query parameter.
type HTTPAPI struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

const defaultRequestTimeout = 15 * time.Second

func (a *HTTPAPI) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: defaultRequestTimeout}
}

func (a *HTTPAPI) endpoint(path string, authenticated bool) string {
	base := strings.TrimRight(a.BaseURL, "/")
	if !authenticated {
		return base + path
	}
	return base + path + "?api_token=" + url.QueryEscape(a.Token)
}

// FetchNotes retrieves the authoritative note list.
func (a *HTTPAPI) FetchNotes(ctx context.Context) ([]todo.Note, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/todonotes", true), http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := a.httpClient().Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fetch notes: unexpected status %d", response.StatusCode)
	}

	var notes []todo.Note
	if err := json.NewDecoder(response.Body).Decode(&notes); err != nil {
		return nil, fmt.Errorf("client: fetch notes: %w", err)
	}
	return notes, nil
}

type eventsResponseBody struct {
	IDs    map[string]int64  `json:"ids"`
	Errors []json.RawMessage `json:"errors"`
}

// PushEvents transmits the full pending batch and decodes the identity
// remap result.
func (a *HTTPAPI) PushEvents(ctx context.Context, batch todo.Batch) (EventsResult, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return EventsResult{}, fmt.Errorf("client: encode batch: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/todonotes/events", true), bytes.NewReader(body))
	if err != nil {
		return EventsResult{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := a.httpClient().Do(request)
	if err != nil {
		return EventsResult{}, err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return EventsResult{}, ErrUnauthorized
	}
	if response.StatusCode != http.StatusOK {
		return EventsResult{}, fmt.Errorf("client: push events: unexpected status %d", response.StatusCode)
	}

	var decoded eventsResponseBody
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return EventsResult{}, fmt.Errorf("client: push events: %w", err)
	}

	result := EventsResult{
		IDs:    make(map[todo.NoteID]todo.NoteID, len(decoded.IDs)),
		Errors: decoded.Errors,
	}
	for raw, permanent := range decoded.IDs {
		submitted, err := todo.ParseNoteID(raw)
		if err != nil {
			return EventsResult{}, fmt.Errorf("client: push events: %w", err)
		}
		result.IDs[submitted] = todo.NoteID(permanent)
	}
	return result, nil
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenBody struct {
	APIToken string `json:"api_token"`
}

// Signup registers an account and returns the issued api_token.
func (a *HTTPAPI) Signup(ctx context.Context, username, password string) (string, error) {
	return a.requestToken(ctx, "/user/signup", username, password, http.StatusCreated)
}

// Login exchanges credentials for an api_token.
func (a *HTTPAPI) Login(ctx context.Context, username, password string) (string, error) {
	return a.requestToken(ctx, "/user/login", username, password, http.StatusOK)
}

func (a *HTTPAPI) requestToken(ctx context.Context, path, username, password string, wantStatus int) (string, error) {
	body, err := json.Marshal(credentialsBody{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(path, false), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := a.httpClient().Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if response.StatusCode != wantStatus {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return "", fmt.Errorf("client: %s: unexpected status %d: %s", path, response.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded tokenBody
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.APIToken == "" {
		return "", fmt.Errorf("client: %s: empty token in response", path)
	}
	return decoded.APIToken, nil
}
