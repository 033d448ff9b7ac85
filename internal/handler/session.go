package handler

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/videotranslator/api/internal/controller"
	"github.com/videotranslator/api/internal/media"
	"github.com/videotranslator/api/internal/middleware"
	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/progress"
	"github.com/videotranslator/api/internal/service"
	ws "github.com/videotranslator/api/internal/websocket"
	"github.com/videotranslator/api/pkg/response"
)

type SessionHandler struct {
	sessions  *service.SessionService
	media     *service.MediaService
	validator *validator.Validate
}

func NewSessionHandler(sessions *service.SessionService, mediaService *service.MediaService, v *validator.Validate) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		media:     mediaService,
		validator: v,
	}
}

func (h *SessionHandler) session(c *fiber.Ctx) (*service.Session, error) {
	sess, err := h.sessions.Get(c.Params("sessionId"), middleware.GetUserID(c))
	if err != nil {
		return nil, response.NotFound(c, "Session not found")
	}
	return sess, nil
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	sess := h.sessions.Create(middleware.GetUserID(c))
	return response.Created(c, model.SessionCreateResponse{
		SessionID: sess.ID,
		CreatedAt: sess.CreatedAt,
	})
}

// Get handles GET /api/sessions/:sessionId
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	return response.OK(c, stateResponse(sess))
}

// Delete handles DELETE /api/sessions/:sessionId
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	if err := h.sessions.Delete(c.UserContext(), c.Params("sessionId"), middleware.GetUserID(c)); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			return response.NotFound(c, "Session not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// UploadMedia handles POST /api/sessions/:sessionId/media
func (h *SessionHandler) UploadMedia(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form is required", nil)
	}
	files := form.File["file"]
	if len(files) == 0 {
		return response.ValidationError(c, "File is required", nil)
	}
	// Only the first file is used.
	file := files[0]

	if file.Size > h.media.MaxSize() {
		return response.MediaTooLarge(c, file.Size, h.media.MaxSize())
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	ctx := c.UserContext()
	m, err := h.media.Ingest(ctx, file.Filename, file.Header.Get("Content-Type"), file.Size, f)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrInvalidMediaType):
			return response.InvalidMediaType(c, file.Header.Get("Content-Type"))
		case errors.Is(err, media.ErrMediaTooLarge):
			return response.MediaTooLarge(c, file.Size, h.media.MaxSize())
		case errors.Is(err, media.ErrEmptyMedia):
			return response.ValidationError(c, "File is empty", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	if url, err := h.media.PlayableURL(ctx, m); err == nil {
		m.URL = url
	} else {
		log.Printf("Failed to sign media URL for %s: %v", m.Key, err)
	}

	previous, err := sess.Controller.ReplaceMedia(*m)
	if err != nil {
		_ = h.media.Delete(ctx, m)
		return response.InvalidMediaType(c, m.ContentType)
	}
	if previous != nil {
		if err := h.media.Delete(ctx, previous); err != nil {
			log.Printf("Failed to delete replaced media %s: %v", previous.Key, err)
		}
	}

	return response.Created(c, stateResponse(sess))
}

// Translate handles POST /api/sessions/:sessionId/translate
func (h *SessionHandler) Translate(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	var req model.TranslateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := sess.Controller.Submit(c.UserContext(), req.SourceLanguage, req.TargetLanguage); err != nil {
		switch {
		case errors.Is(err, controller.ErrNoMedia):
			return response.Conflict(c, response.CodeNoMedia, "Select a video before translating")
		case errors.Is(err, controller.ErrAlreadyRunning):
			return response.Conflict(c, response.CodeAlreadyRunning, "A translation is already running")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, stateResponse(sess))
}

// Cancel handles POST /api/sessions/:sessionId/cancel
func (h *SessionHandler) Cancel(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	if err := sess.Controller.Cancel(); err != nil {
		if errors.Is(err, controller.ErrNotRunning) {
			return response.Conflict(c, response.CodeNotRunning, "No translation is running")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.CancelResponse{
		Success:   true,
		SessionID: sess.ID,
		Status:    sess.Controller.State().Status,
	})
}

// Reset handles POST /api/sessions/:sessionId/reset
func (h *SessionHandler) Reset(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if sess == nil {
		return err
	}

	previous := sess.Controller.Reset()
	if previous != nil {
		if err := h.media.Delete(c.UserContext(), previous); err != nil {
			log.Printf("Failed to delete media %s: %v", previous.Key, err)
		}
	}

	return response.OK(c, stateResponse(sess))
}

// Upgrade checks the session before handing the request to Watch
func (h *SessionHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sess, err := h.session(c)
	if sess == nil {
		return err
	}
	c.Locals("session", sess)
	return c.Next()
}

// Watch handles WS /ws/sessions/:sessionId. The current state is sent first.
func (h *SessionHandler) Watch(hub *ws.Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sess, ok := c.Locals("session").(*service.Session)
		if !ok {
			return
		}
		hub.HandleConnection(c, sess.ID, initialMessage(sess))
	})
}

func initialMessage(sess *service.Session) []byte {
	st := sess.Controller.State()
	data, err := json.Marshal(model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		SessionID:   sess.ID,
		JobID:       st.JobID,
		Progress:    st.Progress,
		Status:      st.Status,
		ActivePhase: progress.ActivePhase(st.Progress, sess.Controller.Phases()),
	})
	if err != nil {
		return nil
	}
	return data
}

func stateResponse(sess *service.Session) model.SessionStateResponse {
	st := sess.Controller.State()
	phases := sess.Controller.Phases()
	view := progress.Present(st.Progress, phases)

	views := make([]model.PhaseView, len(phases))
	for i, p := range phases {
		views[i] = model.PhaseView{
			Name:      p.Name,
			Threshold: p.Threshold,
			State:     string(view.States[i]),
		}
	}

	resp := model.SessionStateResponse{
		SessionID:      sess.ID,
		CanSubmit:      sess.Controller.CanSubmit(),
		IsRunning:      st.IsRunning,
		Status:         st.Status,
		JobID:          st.JobID,
		Progress:       st.Progress,
		ActivePhase:    view.Active,
		Phases:         views,
		SourceLanguage: st.SourceLanguage,
		TargetLanguage: st.TargetLanguage,
		Media:          st.Media,
	}
	if st.ResultReference != "" {
		ref := st.ResultReference
		resp.ResultReference = &ref
	}
	if st.Err != nil {
		msg := st.Err.Error()
		resp.Error = &msg
	}
	return resp
}
