package api

import (
	"context"
	"net/http"

	"flagplane/internal/dto/req"
	"flagplane/internal/dto/resp"
	"flagplane/internal/model"
	"flagplane/internal/service"
	"flagplane/pkg/constraints"

	"github.com/gin-gonic/gin"
)

type FeatureProvider interface {
	Get(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error)
	List(ctx context.Context, namespace, env string, opts service.ListOptions) ([]model.FlagRecord, error)
	Write(ctx context.Context, in service.WriteInput) (*model.FlagRecord, *model.AuditEntry, error)
	History(ctx context.Context, namespace, env, key string) ([]model.AuditEntry, error)
	Rollback(ctx context.Context, in service.RollbackInput) (*model.FlagRecord, *model.AuditEntry, error)
	Evaluate(ctx context.Context, namespace, env, key, subjectID string) (bool, *model.FlagRecord, error)
	Health(ctx context.Context) error
}

type FeatureHandler struct {
	service FeatureProvider
}

func NewFeatureHandler(service FeatureProvider) *FeatureHandler {
	return &FeatureHandler{service: service}
}

func scope(q req.ScopeQuery) (string, string) {
	ns, env := q.Namespace, q.Env
	if ns == "" {
		ns = constraints.DefaultNamespace
	}
	if env == "" {
		env = constraints.DefaultEnv
	}
	return ns, env
}

// WriteFeature creates or updates a flag.
func (h *FeatureHandler) WriteFeature(c *gin.Context) {
	var r req.WriteFeatureRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}

	rec, entry, err := h.service.Write(c.Request.Context(), service.WriteInput{
		Namespace:       r.Namespace,
		Env:             r.Env,
		Key:             r.Key,
		Type:            r.Type,
		Value:           r.Value,
		Operator:        service.GetOperator(c.Request.Context()),
		ExpectedVersion: r.ExpectedVersion,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.WriteFeatureResponse{
		Version: rec.Version,
		AuditID: entry.ID,
		Feature: resp.NewFeatureItem(rec),
	})
}

func (h *FeatureHandler) GetFeature(c *gin.Context) {
	var q req.ScopeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ns, env := scope(q)

	rec, err := h.service.Get(c.Request.Context(), ns, env, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.NewFeatureItem(rec))
}

func (h *FeatureHandler) ListFeatures(c *gin.Context) {
	var r req.ListFeaturesRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		badRequest(c, err)
		return
	}
	ns, env := scope(req.ScopeQuery{Namespace: r.Namespace, Env: r.Env})

	flags, err := h.service.List(c.Request.Context(), ns, env, service.ListOptions{
		Search: r.Search,
		After:  r.After,
		Limit:  r.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.FeatureItem, 0, len(flags))
	for i := range flags {
		items = append(items, resp.NewFeatureItem(&flags[i]))
	}
	c.JSON(http.StatusOK, items)
}

func (h *FeatureHandler) GetFeatureAudits(c *gin.Context) {
	var q req.ScopeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ns, env := scope(q)

	audits, err := h.service.History(c.Request.Context(), ns, env, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.AuditLogItem, 0, len(audits))
	for i := range audits {
		items = append(items, resp.NewAuditLogItem(&audits[i]))
	}
	c.JSON(http.StatusOK, items)
}

func (h *FeatureHandler) RollbackFeature(c *gin.Context) {
	var r req.RollbackFeatureRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}

	rec, entry, err := h.service.Rollback(c.Request.Context(), service.RollbackInput{
		Namespace: r.Namespace,
		Env:       r.Env,
		Key:       c.Param("key"),
		AuditID:   r.AuditID,
		Operator:  service.GetOperator(c.Request.Context()),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.WriteFeatureResponse{
		Version: rec.Version,
		AuditID: entry.ID,
		Feature: resp.NewFeatureItem(rec),
	})
}

func (h *FeatureHandler) EvaluateFeature(c *gin.Context) {
	var r req.EvaluateRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}

	enabled, rec, err := h.service.Evaluate(c.Request.Context(), r.Namespace, r.Env, c.Param("key"), r.SubjectID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.EvaluateResponse{Key: rec.Key, Enabled: enabled, Version: rec.Version})
}

func (h *FeatureHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
