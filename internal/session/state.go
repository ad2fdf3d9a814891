// Package session keeps the per-browsing-session state of the dashboard:
// login flag, username, which dashboard page is shown and the chat
// transcript. A State is owned by one request at a time; the Manager
// serializes requests that share a session cookie.
package session

import (
	"time"

	"thoth/internal/models"
)

// State is the mutable record behind one browsing session.
type State struct {
	ID           string           `json:"id"`
	LoggedIn     bool             `json:"logged_in"`
	Username     string           `json:"username"`
	SolutionPage bool             `json:"solution_page"`
	Messages     []models.Message `json:"messages"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// New returns an empty, logged-out state.
func New(id string) *State {
	now := time.Now().UTC()
	return &State{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Login marks the session as authenticated and shows the welcome page.
func (s *State) Login(username string) {
	s.LoggedIn = true
	s.Username = username
	s.SolutionPage = false
}

// Logout drops authentication, navigation and the chat transcript.
func (s *State) Logout() {
	s.LoggedIn = false
	s.Username = ""
	s.SolutionPage = false
	s.Messages = nil
}

func (s *State) ShowSolution(on bool) {
	s.SolutionPage = on
}

func (s *State) AppendMessage(role models.Role, content string) models.Message {
	msg := models.Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
	s.Messages = append(s.Messages, msg)
	return msg
}

func (s *State) ClearMessages() {
	s.Messages = nil
}

// History returns a copy of the transcript.
func (s *State) History() []models.Message {
	out := make([]models.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = s.History()
	return &cp
}
