package transport

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aidesk-core/server/internal/agent"
	"github.com/aidesk-core/server/internal/agent/model"
	errx "github.com/aidesk-core/server/internal/core/error"
	logx "github.com/aidesk-core/server/pkg/logger"
)

// Handler exposes the conversation engine over HTTP.
type Handler struct {
	engine *agent.Engine
}

func NewHandler(engine *agent.Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts the routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	v1 := e.Group("/v1")
	v1.POST("/query", h.Query)
	v1.GET("/conversations/:id", h.GetConversation)
	v1.POST("/conversations/:id/resolve", h.Resolve)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Query handles one user turn.
func (h *Handler) Query(c echo.Context) error {
	var input model.QueryInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.engine.HandleQuery(c.Request().Context(), input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.engine.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type resolveRequest struct {
	SatisfactionScore *int `json:"satisfaction_score,omitempty"`
}

type resolveResponse struct {
	ConversationID    string       `json:"conversation_id"`
	Status            model.Status `json:"status"`
	TicketNumber      string       `json:"ticket_number"`
	SatisfactionScore *int         `json:"satisfaction_score,omitempty"`
}

// Resolve closes a conversation. Resolving twice is safe and returns the
// current state.
func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SatisfactionScore != nil && (*req.SatisfactionScore < 1 || *req.SatisfactionScore > 5) {
		return echo.NewHTTPError(http.StatusBadRequest, "satisfaction_score must be between 1 and 5")
	}

	conv, err := h.engine.Resolve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}

	ev := logx.Info().
		Str("conversation_id", conv.ID).
		Str("ticket_number", conv.TicketNumber).
		Str("status", string(conv.Status))
	if req.SatisfactionScore != nil {
		ev = ev.Int("satisfaction_score", *req.SatisfactionScore)
	}
	ev.Msg("conversation resolve requested")

	return c.JSON(http.StatusOK, resolveResponse{
		ConversationID:    conv.ID,
		Status:            conv.Status,
		TicketNumber:      conv.TicketNumber,
		SatisfactionScore: req.SatisfactionScore,
	})
}

func toHTTPError(err error) error {
	return echo.NewHTTPError(errx.StatusOf(err), errx.MessageOf(err))
}
