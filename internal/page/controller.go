// Package page decides which dashboard view a session sees and applies the
// user's actions to its session state.
package page

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"thoth/internal/auth"
	"thoth/internal/chat"
	"thoth/internal/models"
	"thoth/internal/session"
)

type View int

const (
	Unauthenticated View = iota
	DashboardWelcome
	DashboardChat
)

func (v View) String() string {
	switch v {
	case Unauthenticated:
		return "unauthenticated"
	case DashboardWelcome:
		return "welcome"
	case DashboardChat:
		return "chat"
	default:
		return fmt.Sprintf("view(%d)", int(v))
	}
}

// ParseView maps a navigation target to a dashboard view.
func ParseView(name string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "welcome":
		return DashboardWelcome, nil
	case "chat", "solution":
		return DashboardChat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownView, name)
	}
}

var (
	ErrNotAuthenticated = errors.New("login required")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrUnknownView      = errors.New("unknown view")
)

// Authenticator is the subset of auth.Service the controller drives.
type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

type Controller struct {
	auth      Authenticator
	responder model.BaseChatModel
}

func NewController(authenticator Authenticator, responder model.BaseChatModel) *Controller {
	return &Controller{auth: authenticator, responder: responder}
}

// View reports the view the state currently renders.
func (c *Controller) View(st *session.State) View {
	switch {
	case st == nil || !st.LoggedIn:
		return Unauthenticated
	case st.SolutionPage:
		return DashboardChat
	default:
		return DashboardWelcome
	}
}

// Login authenticates and, on success, moves the session to the welcome page.
// A failed attempt leaves the state untouched.
func (c *Controller) Login(ctx context.Context, st *session.State, username, password string) error {
	username = strings.TrimSpace(username)
	ok, err := c.auth.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ErrInvalidCredentials
	}
	st.Login(username)
	return nil
}

// Register creates the account and logs the session in.
func (c *Controller) Register(ctx context.Context, st *session.State, username, password string) error {
	username = strings.TrimSpace(username)
	if err := c.auth.Register(ctx, username, password); err != nil {
		return err
	}
	st.Login(username)
	return nil
}

// GoToSolution is the welcome page's call to action.
func (c *Controller) GoToSolution(st *session.State) {
	st.ShowSolution(true)
}

// Navigate switches between the dashboard pages. It only flips the page
// flag, so it does not depend on the login state.
func (c *Controller) Navigate(st *session.State, target View) error {
	switch target {
	case DashboardWelcome:
		st.ShowSolution(false)
	case DashboardChat:
		st.ShowSolution(true)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownView, target)
	}
	return nil
}

func (c *Controller) Logout(st *session.State) {
	st.Logout()
}

// SendMessage records the user's message, streams the responder's reply
// through onToken and records the reply. If streaming fails the partial reply
// is not kept.
func (c *Controller) SendMessage(ctx context.Context, st *session.State, text string, onToken func(string) error) (models.Message, models.Message, error) {
	if err := c.ValidateMessage(st, text); err != nil {
		return models.Message{}, models.Message{}, err
	}
	userMsg := st.AppendMessage(models.RoleUser, text)
	reply, err := chat.Collect(ctx, c.responder, text, onToken)
	if err != nil {
		return userMsg, models.Message{}, fmt.Errorf("generate response: %w", err)
	}
	aiMsg := st.AppendMessage(models.RoleAssistant, reply)
	return userMsg, aiMsg, nil
}

// ValidateMessage reports whether SendMessage would accept text for st.
func (c *Controller) ValidateMessage(st *session.State, text string) error {
	if !st.LoggedIn {
		return ErrNotAuthenticated
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return nil
}

func (c *Controller) ClearHistory(st *session.State) {
	st.ClearMessages()
}
