package api

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/fanout/errors"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/run"
	"github.com/kbukum/fanout/server"
	"github.com/kbukum/fanout/source"
	"github.com/kbukum/fanout/sse"
	"github.com/kbukum/fanout/validation"
)

// Runner is the part of the orchestrator the API drives.
type Runner interface {
	Submit(ctx context.Context, q orchestrator.Query) (orchestrator.Handle, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	ListRuns(ctx context.Context, ownerID string, page, size int) ([]*run.Run, int64, error)
}

// Catalog builds the tasks for a query.
type Catalog interface {
	QueryTypes() []string
	Tasks(queryType, input string) ([]source.Task, error)
}

// Handler serves the lookup API.
type Handler struct {
	runner  Runner
	catalog Catalog
	log     *logger.Logger
	hub     *sse.Hub
}

// NewHandler creates a Handler.
func NewHandler(runner Runner, catalog Catalog, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{runner: runner, catalog: catalog, log: log.WithComponent("api")}
}

// WithEvents enables GET /api/v1/runs/:id/events, streaming run progress
// from hub.
func (h *Handler) WithEvents(hub *sse.Hub) *Handler {
	h.hub = hub
	return h
}

// Register mounts the routes under /api/v1.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.POST("/lookups", h.submitLookup)
	v1.GET("/runs/:id", h.getRun)
	if h.hub != nil {
		v1.GET("/runs/:id/events", h.watchRun)
	}
	v1.GET("/runs", h.listRuns)
	v1.GET("/query-types", h.queryTypes)
}

type lookupRequest struct {
	OwnerID    string `json:"owner_id" validate:"max=128"`
	QueryType  string `json:"query_type" validate:"required,max=64"`
	QueryInput string `json:"query_input" validate:"required,max=1024,nocontrol"`
}

func (h *Handler) submitLookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, apperrors.InvalidInput("body", "request body must be a JSON lookup"))
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}

	tasks, err := h.catalog.Tasks(req.QueryType, req.QueryInput)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	handle, err := h.runner.Submit(c.Request.Context(), orchestrator.Query{
		OwnerID:    req.OwnerID,
		QueryType:  req.QueryType,
		QueryInput: req.QueryInput,
		Tasks:      tasks,
	})
	if err != nil {
		h.log.Error("Submit failed", logger.Fields(
			logger.FieldError, err.Error(),
			"query_type", req.QueryType,
		))
		server.RespondWithError(c, err)
		return
	}
	server.RespondAccepted(c, handle)
}

func (h *Handler) getRun(c *gin.Context) {
	id := c.Param("id")
	if _, err := validation.ValidateUUID("id", id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	r, err := h.runner.GetRun(c.Request.Context(), id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, r)
}

// watchRun streams outcome events until the run is finalized. A run that is
// already terminal gets a single finalized event.
func (h *Handler) watchRun(c *gin.Context) {
	id := c.Param("id")
	if _, err := validation.ValidateUUID("id", id); err != nil {
		server.RespondWithError(c, err)
		return
	}

	// Register before reading so a finalize in between is not missed.
	client, err := h.hub.Register(sse.RunClientID(id))
	if err != nil {
		server.RespondWithError(c, apperrors.Unavailable("Service is shutting down."))
		return
	}
	defer h.hub.Unregister(client)

	r, err := h.runner.GetRun(c.Request.Context(), id)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	opts := sse.StreamOptions{Until: sse.IsFinalized}
	if r.Status.IsTerminal() {
		ev, err := sse.FinalizedEvent(r)
		if err != nil {
			server.RespondWithError(c, apperrors.Internal(err))
			return
		}
		opts.Initial = []sse.Event{ev}
	} else {
		data, _ := json.Marshal(r)
		opts.Initial = []sse.Event{{Type: sse.EventConnected, Data: data}}
	}

	if err := sse.Stream(c.Writer, c.Request, client, opts); err != nil {
		h.log.Debug("Run stream ended", logger.Fields(logger.FieldRunID, id, logger.FieldError, err.Error()))
	}
}

func (h *Handler) listRuns(c *gin.Context) {
	v := validation.New()
	page := queryInt(c, v, "page", 1)
	size := queryInt(c, v, "size", run.DefaultPageSize)
	v.Min("page", page, 1).Range("size", size, 1, run.MaxPageSize)
	if err := v.Err(); err != nil {
		server.RespondWithError(c, err)
		return
	}

	runs, total, err := h.runner.ListRuns(c.Request.Context(), c.Query("owner_id"), page, size)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOKWithMeta(c, runs, run.NewPagination(page, size, total))
}

func (h *Handler) queryTypes(c *gin.Context) {
	server.RespondOK(c, h.catalog.QueryTypes())
}

// queryInt reads an integer query parameter, recording a field error when
// it is present but not a number.
func queryInt(c *gin.Context, v *validation.Validator, name string, def int) int {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.AddError(name, "must be an integer")
		return def
	}
	return n
}
