package api

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"thoth/internal/assets"
	"thoth/internal/auth"
	"thoth/internal/models"
	"thoth/internal/page"
	"thoth/internal/session"
)

type pageData struct {
	View        string
	Username    string
	Tab         string
	CSRFToken   string
	Notice      *notice
	Messages    []models.Message
	Latest      []models.Message
	Background  template.CSS
	SampleImage template.URL
}

// render draws the current view of st. Assets are read on every render, and a
// missing one fails the whole page.
func (h *Handler) render(c *gin.Context, status int, st *session.State, n *notice) {
	view := h.pages.View(st)
	data := pageData{
		View:     view.String(),
		Username: st.Username,
		Tab:      loginTab(c, n),
		Notice:   n,
	}
	if token, ok := auth.CSRFTokenFromContext(c); ok {
		data.CSRFToken = token
	}

	background, err := h.assets.DataURI(assets.Background)
	if err != nil {
		h.renderFailure(c, err)
		return
	}
	data.Background = template.CSS("background-image: url(\"" + background + "\");")

	if view == page.DashboardChat {
		sample, err := h.assets.DataURI(assets.Sample)
		if err != nil {
			h.renderFailure(c, err)
			return
		}
		data.SampleImage = template.URL(sample)
		data.Messages = st.History()
		data.Latest = latestExchange(data.Messages)
	}

	c.HTML(status, indexTemplate, data)
}

func (h *Handler) renderFailure(c *gin.Context, err error) {
	h.log.Error(c.Request.Context(), "render page", "error", err, "assets_dir", h.assets.Dir())
	msg := "page unavailable"
	if errors.Is(err, assets.ErrMissingAsset) {
		msg = err.Error()
	}
	c.String(http.StatusInternalServerError, msg)
}

func loginTab(c *gin.Context, n *notice) string {
	if n != nil && (n.Form == "login" || n.Form == "register") {
		return n.Form
	}
	if c.Query("tab") == "register" {
		return "register"
	}
	return "login"
}

// latestExchange returns the trailing user message and the reply that follows it.
func latestExchange(messages []models.Message) []models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i:]
		}
	}
	return nil
}
