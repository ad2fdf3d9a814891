package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"thoth/internal/logging"
)

const (
	DefaultCookieName = "thoth_session"
	stateContextKey   = "session_state"
)

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Manager binds a State to every request through a session cookie.
type Manager struct {
	store      Store
	log        logging.Logger
	cookieName string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

func NewManager(store Store, log logging.Logger) *Manager {
	return &Manager{
		store:      store,
		log:        log,
		cookieName: DefaultCookieName,
		locks:      make(map[string]*sessionLock),
	}
}

// CookieName returns the cookie carrying the session id.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Middleware loads (or creates) the session state, runs the handler chain
// while holding the session's lock and saves the state once afterwards.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var state *State

		if id, err := c.Cookie(m.cookieName); err == nil && validID(id) {
			release := m.acquire(id)
			defer release()
			loaded, err := m.store.Load(ctx, id)
			switch {
			case err == nil:
				state = loaded
			case errors.Is(err, ErrNotFound):
			default:
				m.log.Error(ctx, "load session failed", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
				return
			}
		}
		if state == nil {
			id := uuid.NewString()
			release := m.acquire(id)
			defer release()
			state = New(id)
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     m.cookieName,
				Value:    id,
				Path:     "/",
				Secure:   gin.Mode() == gin.ReleaseMode,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			m.log.Debug(ctx, "session created", "session", id)
		}

		c.Set(stateContextKey, state)
		c.Next()

		state.UpdatedAt = time.Now().UTC()
		if err := m.store.Save(context.WithoutCancel(ctx), state); err != nil {
			m.log.Error(ctx, "save session failed", "session", state.ID, "error", err)
		}
	}
}

// FromContext returns the state bound by Middleware.
func FromContext(c *gin.Context) (*State, bool) {
	val, ok := c.Get(stateContextKey)
	if !ok {
		return nil, false
	}
	state, ok := val.(*State)
	return state, ok && state != nil
}

func (m *Manager) acquire(id string) func() {
	m.mu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sessionLock{}
		m.locks[id] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
