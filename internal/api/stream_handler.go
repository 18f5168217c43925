package api

import (
	"context"
	"io"
	"net/http"

	"flagplane/internal/dto/req"
	"flagplane/internal/dto/resp"
	"flagplane/internal/service"
	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/constraints"
	"flagplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SnapshotProvider interface {
	Snapshot(ctx context.Context, filter service.Filter) ([]v1.FeatureFlag, error)
}

type StreamHandler struct {
	service SnapshotProvider
	hub     *service.Hub
}

func NewStreamHandler(service SnapshotProvider, hub *service.Hub) *StreamHandler {
	return &StreamHandler{
		service: service,
		hub:     hub,
	}
}

func streamFilter(c *gin.Context) (service.Filter, error) {
	var r req.StreamRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		return service.Filter{}, err
	}
	if r.Env == "" {
		r.Env = constraints.DefaultEnv
	}
	return service.Filter{Env: r.Env, Namespaces: service.ParseNamespaces(r.Namespace)}, nil
}

// DashboardWatch streams every change of one env to an operator.
func (h *StreamHandler) DashboardWatch(c *gin.Context) {
	filter, err := streamFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.serve(c, filter, zap.String("operator", service.GetOperator(c.Request.Context())))
}

// WatchFeature streams changes to SDK clients. Clients load the current
// state from /snapshot first; the stream never replays.
func (h *StreamHandler) WatchFeature(c *gin.Context) {
	filter, err := streamFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.serve(c, filter, zap.String("client", "sdk"))
}

func (h *StreamHandler) serve(c *gin.Context, filter service.Filter, who zap.Field) {
	sub, err := h.hub.Subscribe(filter)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	logger.Info("stream client connected",
		who,
		zap.String("env", filter.Env),
		zap.Strings("namespaces", filter.Namespaces),
		zap.String("ip", c.ClientIP()),
	)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case f := <-sub.Frames():
			if f.IsPing() {
				c.SSEvent(constraints.EventPing, "pong")
				return true
			}
			c.SSEvent(constraints.EventMessage, f.Event)
			return true
		case <-sub.Done():
			logger.Info("stream closed by hub", who, zap.Error(sub.Err()))
			return false
		case <-ctx.Done():
			return false
		}
	})
}

func (h *StreamHandler) FetchAll(c *gin.Context) {
	filter, err := streamFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	flags, err := h.service.Snapshot(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.SnapshotResponse{Data: flags})
}
