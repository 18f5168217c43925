package req

type WriteFeatureRequest struct {
	Namespace string `json:"namespace" binding:"required"`
	Env       string `json:"env" binding:"required"`
	Key       string `json:"key" binding:"required"`
	Type      string `json:"type" binding:"required"`
	Value     string `json:"value"`
	// ExpectedVersion makes the write conditional; zero means the key must
	// not exist yet.
	ExpectedVersion *int64 `json:"expected_version"`
}

type ScopeQuery struct {
	Namespace string `form:"namespace"`
	Env       string `form:"env"`
}

type ListFeaturesRequest struct {
	Namespace string `form:"namespace"`
	Env       string `form:"env"`
	Search    string `form:"search"`
	After     string `form:"after"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type RollbackFeatureRequest struct {
	Namespace string `json:"namespace" binding:"required"`
	Env       string `json:"env" binding:"required"`
	AuditID   int64  `json:"audit_id" binding:"required"`
}

type EvaluateRequest struct {
	Namespace string `json:"namespace" binding:"required"`
	Env       string `json:"env" binding:"required"`
	SubjectID string `json:"subject_id"`
}

type StreamRequest struct {
	Env string `form:"env"`
	// Namespace is a comma separated filter; empty or "*" selects all.
	Namespace string `form:"namespace"`
}
