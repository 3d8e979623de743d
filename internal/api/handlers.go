package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/audit"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/service"
)

// Disclaimer accompanies every prediction response. The model is a
// decision-support aid, not a prescriber.
const Disclaimer = "This prediction is a statistical estimate for decision support only and is not medical advice."

// Handler implements the HTTP endpoints.
type Handler struct {
	cfg       domain.ServerConfig
	contract  *domain.SchemaContract
	validator *service.Validator
	handle    *service.ModelHandle
	cache     *service.PredictionCache
	audit     audit.Store
	log       *logrus.Logger

	startTime time.Time
	served    atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

// NewHandler creates the endpoint handler. cache and auditStore may be nil
// when the corresponding feature is disabled.
func NewHandler(
	cfg domain.ServerConfig,
	contract *domain.SchemaContract,
	handle *service.ModelHandle,
	cache *service.PredictionCache,
	auditStore audit.Store,
	log *logrus.Logger,
) *Handler {
	return &Handler{
		cfg:       cfg,
		contract:  contract,
		validator: service.NewValidator(contract),
		handle:    handle,
		cache:     cache,
		audit:     auditStore,
		log:       log,
		startTime: time.Now(),
	}
}

// PredictResponse is the prediction payload. Field names mirror the
// request schema so clients can correlate by patient identifier.
type PredictResponse struct {
	PatientID        string             `json:"Patient_ID"`
	ImprovementScore float64            `json:"Improvement_Score"`
	ModelVersion     string             `json:"model_version"`
	Disclaimer       string             `json:"disclaimer"`
	Warnings         []domain.Violation `json:"warnings,omitempty"`
}

type healthResponse struct {
	Status            string  `json:"status"`
	ModelLoaded       bool    `json:"model_loaded"`
	ModelVersion      string  `json:"model_version,omitempty"`
	ContractHash      string  `json:"contract_hash"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	PredictionsServed int64   `json:"predictions_served"`
	PredictionsFailed int64   `json:"predictions_failed"`
	RequestsRejected  int64   `json:"requests_rejected"`
	CacheHits         int64   `json:"cache_hits,omitempty"`
	CacheMisses       int64   `json:"cache_misses,omitempty"`
}

// Health reports service readiness. Returns 503 until a model bundle is
// loaded so load balancers keep traffic away from a cold instance.
func (h *Handler) Health(c *gin.Context) {
	resp := healthResponse{
		ModelLoaded:       h.handle.Ready(),
		ContractHash:      h.contract.Hash(),
		UptimeSeconds:     time.Since(h.startTime).Seconds(),
		PredictionsServed: h.served.Load(),
		PredictionsFailed: h.failed.Load(),
		RequestsRejected:  h.rejected.Load(),
	}
	if h.cache != nil {
		resp.CacheHits, resp.CacheMisses = h.cache.Stats()
	}

	bundle, err := h.handle.Current()
	if err != nil {
		resp.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.ModelVersion = bundle.Version
	c.JSON(http.StatusOK, resp)
}

// DropdownValues returns the contract's categorical and dosage options for
// client form population.
func (h *Handler) DropdownValues(c *gin.Context) {
	c.JSON(http.StatusOK, h.contract.Dropdowns())
}

// Predict validates a request against the schema contract, transforms it
// with the serving transformer, and returns the clamped score.
func (h *Handler) Predict(c *gin.Context) {
	requestID := c.GetString("request_id")

	var raw domain.RawRecord
	if err := c.ShouldBindJSON(&raw); err != nil {
		h.rejected.Add(1)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.NewServiceError(domain.ErrCodeValidation,
				"Request body is not valid JSON", err.Error(), requestID),
		})
		return
	}

	bundle, err := h.handle.Current()
	if err != nil {
		h.failed.Add(1)
		h.log.WithField("request_id", requestID).Warn("Prediction requested before model load")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": domain.NewServiceError(domain.ErrCodeArtifactUnavailable,
				"Model artifacts are not loaded", "", requestID),
		})
		return
	}

	rec, violations := h.validator.ValidateRequest(raw, bundle.Combinations)
	var warnings []domain.Violation
	if len(violations) > 0 {
		vErr := &domain.ValidationError{Violations: violations}
		if vErr.OnlyUntestedCombination() && h.cfg.CombinationPolicy == domain.CombinationPolicyWarn {
			// Policy says serve it with a warning instead of blocking.
			// Strip the gate and revalidate so the record is fully typed.
			warnings = violations
			rec, violations = h.validator.ValidateRequest(raw, nil)
		}
		if len(violations) > 0 {
			h.rejectValidation(c, requestID, raw, vErr)
			return
		}
	}

	score, version, err := h.predict(bundle, rec)
	if err != nil {
		h.failed.Add(1)
		h.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("Prediction failed")
		h.auditEntry(c, &audit.Entry{
			RequestID: requestID,
			PatientID: rec.PatientID,
			Outcome:   audit.OutcomeFailed,
			Detail:    err.Error(),
		})

		code := domain.ErrCodeInternalServer
		if errors.Is(err, domain.ErrTransformMismatch) {
			code = domain.ErrCodeTransformMismatch
		}
		// Internal detail stays in logs; the caller gets a generic message.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": domain.NewServiceError(code, "Prediction failed", "", requestID),
		})
		return
	}

	h.served.Add(1)
	h.auditEntry(c, &audit.Entry{
		RequestID:    requestID,
		PatientID:    rec.PatientID,
		Outcome:      audit.OutcomeServed,
		Score:        score,
		ModelVersion: version,
	})

	c.JSON(http.StatusOK, PredictResponse{
		PatientID:        rec.PatientID,
		ImprovementScore: score,
		ModelVersion:     version,
		Disclaimer:       Disclaimer,
		Warnings:         warnings,
	})
}

// predict runs the transform-predict path, consulting the cache first.
func (h *Handler) predict(bundle *service.ModelBundle, rec *domain.Record) (float64, string, error) {
	version := bundle.Version

	var key string
	if h.cache != nil {
		key = h.cache.Key(rec, version)
		if cached, ok := h.cache.Get(key); ok {
			return cached.Score, cached.ModelVersion, nil
		}
	}

	features, err := bundle.Transformer.Transform(rec)
	if err != nil {
		return 0, "", err
	}
	score, err := bundle.Predictor.Predict(features)
	if err != nil {
		return 0, "", err
	}

	if h.cache != nil {
		h.cache.Put(key, service.CachedPrediction{Score: score, ModelVersion: version})
	}
	return score, version, nil
}

func (h *Handler) rejectValidation(c *gin.Context, requestID string, raw domain.RawRecord, vErr *domain.ValidationError) {
	h.rejected.Add(1)

	code := domain.ErrCodeValidation
	if vErr.OnlyUntestedCombination() {
		code = domain.ErrCodeUntestedCombination
	}

	h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"violations": len(vErr.Violations),
	}).Info("Request rejected by schema contract")

	patientID, _ := raw[domain.FieldPatientID].(string)
	h.auditEntry(c, &audit.Entry{
		RequestID: requestID,
		PatientID: patientID,
		Outcome:   audit.OutcomeRejected,
		Detail:    vErr.Error(),
	})

	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":      domain.NewServiceError(code, "Request failed schema validation", "", requestID),
		"violations": vErr.Violations,
	})
}

// Audit list pagination bounds.
const (
	auditDefaultLimit = 50
	auditMaxLimit     = 500
)

// AuditList returns audit entries newest-first with limit/offset
// pagination and the total count.
func (h *Handler) AuditList(c *gin.Context) {
	requestID := c.GetString("request_id")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(auditDefaultLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.NewServiceError(domain.ErrCodeValidation,
				"limit must be a positive integer", c.Query("limit"), requestID),
		})
		return
	}
	if limit > auditMaxLimit {
		limit = auditMaxLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.NewServiceError(domain.ErrCodeValidation,
				"offset must be a non-negative integer", c.Query("offset"), requestID),
		})
		return
	}

	entries, err := h.audit.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.auditReadError(c, requestID, err)
		return
	}
	total, err := h.audit.Count(c.Request.Context())
	if err != nil {
		h.auditReadError(c, requestID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   total,
		"limit":   limit,
		"offset":  offset,
		"entries": entries,
	})
}

// AuditExport streams the full audit trail as a JSON document.
func (h *Handler) AuditExport(c *gin.Context) {
	requestID := c.GetString("request_id")

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="audit-export.json"`)
	if err := h.audit.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		// Headers may already be out; log and abort the stream.
		h.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err,
		}).Error("Audit export failed")
		c.Abort()
	}
}

func (h *Handler) auditReadError(c *gin.Context, requestID string, err error) {
	h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"error":      err,
	}).Error("Audit query failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": domain.NewServiceError(domain.ErrCodeInternalServer,
			"Audit trail query failed", "", requestID),
	})
}

func (h *Handler) auditEntry(c *gin.Context, entry *audit.Entry) {
	if h.audit == nil {
		return
	}
	entry.CreatedAt = time.Now().UTC()
	if err := h.audit.Save(c.Request.Context(), entry); err != nil {
		h.log.WithError(err).Warn("Failed to write audit entry")
	}
}
