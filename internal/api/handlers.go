package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"thoth/internal/assets"
	"thoth/internal/auth"
	"thoth/internal/logging"
	"thoth/internal/models"
	"thoth/internal/page"
	"thoth/internal/session"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	indexTemplate = "index.tmpl"
	streamTimeout = 2 * time.Minute
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler wires HTTP routes to the page controller.
type Handler struct {
	pages     *page.Controller
	auth      *auth.Service
	sessions  *session.Manager
	assets    *assets.Loader
	db        Pinger
	log       logging.Logger
	templates *template.Template
}

// NewHandler constructs a Handler instance.
func NewHandler(pages *page.Controller, authService *auth.Service, sessions *session.Manager, loader *assets.Loader, db Pinger, log logging.Logger) *Handler {
	return &Handler{
		pages:     pages,
		auth:      authService,
		sessions:  sessions,
		assets:    loader,
		db:        db,
		log:       log,
		templates: template.Must(template.New("").ParseFS(templateFS, "templates/*.tmpl")),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.templates)
	router.GET("/healthz", h.health)

	ui := router.Group("/")
	ui.Use(h.sessions.Middleware(), h.auth.CSRFMiddleware())
	ui.GET("/", h.index)
	ui.GET("/api/session", h.sessionSnapshot)
	ui.POST("/login", h.login)
	ui.POST("/register", h.register)
	ui.POST("/logout", h.logout)
	ui.POST("/solution", h.goToSolution)
	ui.POST("/nav/:view", h.navigate)
	ui.POST("/chat", h.sendMessage)
	ui.POST("/chat/stream", h.streamMessage)
	ui.POST("/chat/clear", h.clearHistory)
}

// User-facing notices shown next to the form that failed.
const (
	msgInvalidForm        = "Некорректная форма"
	msgInvalidCredentials = "Неверное имя пользователя или пароль"
	msgDuplicateUsername  = "Имя пользователя уже существует"
	msgMissingCredentials = "Введите имя пользователя и пароль"
	msgPasswordTooLong    = "Пароль слишком длинный"
	msgEmptyMessage       = "Сообщение не может быть пустым"
	msgUnavailable        = "Сервис временно недоступен, попробуйте ещё раз"
)

type notice struct {
	Form string
	Text string
}

type credentialsForm struct {
	Username string `form:"username"`
	Password string `form:"password"`
}

func (h *Handler) sessionState(c *gin.Context) (*session.State, bool) {
	st, ok := session.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return nil, false
	}
	return st, true
}

// redirectHome finishes a mutation with a single re-render of the current view.
func redirectHome(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) index(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, st, nil)
}

func (h *Handler) login(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusBadRequest, st, &notice{Form: "login", Text: msgInvalidForm})
		return
	}
	err := h.pages.Login(c.Request.Context(), st, form.Username, form.Password)
	switch {
	case err == nil:
		redirectHome(c)
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.render(c, http.StatusUnauthorized, st, &notice{Form: "login", Text: msgInvalidCredentials})
	default:
		h.log.Error(c.Request.Context(), "login failed", "error", err)
		h.render(c, http.StatusInternalServerError, st, &notice{Form: "login", Text: msgUnavailable})
	}
}

func (h *Handler) register(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusBadRequest, st, &notice{Form: "register", Text: msgInvalidForm})
		return
	}
	err := h.pages.Register(c.Request.Context(), st, form.Username, form.Password)
	switch {
	case err == nil:
		redirectHome(c)
	case errors.Is(err, auth.ErrDuplicateUsername):
		h.render(c, http.StatusConflict, st, &notice{Form: "register", Text: msgDuplicateUsername})
	case errors.Is(err, auth.ErrMissingCredentials):
		h.render(c, http.StatusBadRequest, st, &notice{Form: "register", Text: msgMissingCredentials})
	case errors.Is(err, auth.ErrPasswordTooLong):
		h.render(c, http.StatusBadRequest, st, &notice{Form: "register", Text: msgPasswordTooLong})
	default:
		h.log.Error(c.Request.Context(), "register failed", "error", err)
		h.render(c, http.StatusInternalServerError, st, &notice{Form: "register", Text: msgUnavailable})
	}
}

func (h *Handler) logout(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	h.pages.Logout(st)
	redirectHome(c)
}

func (h *Handler) goToSolution(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	h.pages.GoToSolution(st)
	redirectHome(c)
}

func (h *Handler) navigate(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	target, err := page.ParseView(c.Param("view"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.pages.Navigate(st, target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	redirectHome(c)
}

type messageForm struct {
	Content string `form:"content" json:"content"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	var form messageForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusBadRequest, st, &notice{Form: "chat", Text: msgInvalidForm})
		return
	}
	_, _, err := h.pages.SendMessage(c.Request.Context(), st, form.Content, nil)
	switch {
	case err == nil, errors.Is(err, page.ErrNotAuthenticated):
		redirectHome(c)
	case errors.Is(err, page.ErrEmptyMessage):
		h.render(c, http.StatusBadRequest, st, &notice{Form: "chat", Text: msgEmptyMessage})
	default:
		h.log.Error(c.Request.Context(), "chat response failed", "error", err)
		h.render(c, http.StatusInternalServerError, st, &notice{Form: "chat", Text: msgUnavailable})
	}
}

func (h *Handler) streamMessage(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	var form messageForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.pages.ValidateMessage(st, form.Content); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, page.ErrNotAuthenticated) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	stream, err := newEventStream(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := stream.send("ack", gin.H{"message": messagePayload(models.Message{
		Role:      models.RoleUser,
		Content:   form.Content,
		CreatedAt: time.Now().UTC(),
	})}); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), streamTimeout)
	defer cancel()
	userMsg, aiMsg, err := h.pages.SendMessage(ctx, st, form.Content, func(token string) error {
		return stream.send("stream", gin.H{"content": token})
	})
	if err != nil {
		if ctx.Err() == nil {
			h.log.Warn(c.Request.Context(), "chat stream aborted", "error", err)
		}
		_ = stream.send("error", gin.H{"message": err.Error()})
		return
	}
	_ = stream.send("done", gin.H{
		"user_message": messagePayload(userMsg),
		"ai_message":   messagePayload(aiMsg),
	})
}

func (h *Handler) clearHistory(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	h.pages.ClearHistory(st)
	redirectHome(c)
}

func (h *Handler) sessionSnapshot(c *gin.Context) {
	st, ok := h.sessionState(c)
	if !ok {
		return
	}
	messages := st.History()
	payload := make([]gin.H, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, messagePayload(m))
	}
	c.JSON(http.StatusOK, gin.H{
		"view":     h.pages.View(st).String(),
		"username": st.Username,
		"messages": payload,
	})
}

func (h *Handler) health(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func messagePayload(m models.Message) gin.H {
	return gin.H{
		"role":       m.Role,
		"content":    m.Content,
		"created_at": m.CreatedAt,
	}
}
