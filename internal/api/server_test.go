package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatment-outcome-server/internal/audit"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/service"
	"github.com/treatment-outcome-server/pkg/rforest"
)

const testContractYAML = `
patient_id_pattern: '^P\d+$'
age_range: [18, 100]
duration_range: [1, 365]
score_range: [0, 10]
gender_values: [Male, Female]
condition_values: [Hypertension, Diabetes, Asthma]
drug_values: [Amlodipine, Metformin, Albuterol]
side_effect_values: [None, Nausea, Headache]
dosage_values: [10, 25, 50, 100, 250, 500]
`

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func trainedBundle(t *testing.T, contract *domain.SchemaContract) *service.ModelBundle {
	t.Helper()

	records := []domain.Record{
		{PatientID: "P1", Age: 30, Gender: "Male", Condition: "Hypertension", DrugName: "Amlodipine", Dosage: 50, Duration: 90, SideEffects: "None", Score: 7, HasScore: true},
		{PatientID: "P2", Age: 50, Gender: "Female", Condition: "Diabetes", DrugName: "Metformin", Dosage: 500, Duration: 180, SideEffects: "Nausea", Score: 5, HasScore: true},
		{PatientID: "P3", Age: 70, Gender: "Male", Condition: "Asthma", DrugName: "Albuterol", Dosage: 100, Duration: 30, SideEffects: "Headache", Score: 8, HasScore: true},
		{PatientID: "P4", Age: 40, Gender: "Female", Condition: "Hypertension", DrugName: "Amlodipine", Dosage: 25, Duration: 60, SideEffects: "None", Score: 6, HasScore: true},
	}

	transformer, err := service.FitTransformer(records, contract)
	require.NoError(t, err)

	x := make([][]float64, len(records))
	y := make([]float64, len(records))
	for i := range records {
		vec, err := transformer.Transform(&records[i])
		require.NoError(t, err)
		x[i] = vec
		y[i] = records[i].Score
	}
	forest, err := rforest.Fit(x, y, rforest.Params{NumTrees: 5, MaxDepth: 3, Seed: 42})
	require.NoError(t, err)

	predictor, err := service.NewPredictor(forest, contract.ScoreRange, "v-test0001")
	require.NoError(t, err)

	return &service.ModelBundle{
		Transformer:  transformer,
		Predictor:    predictor,
		Combinations: domain.DeriveCombinations(records),
		Version:      "v-test0001",
	}
}

func testServer(t *testing.T, ready bool, policy string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contract, err := domain.ParseContract([]byte(testContractYAML))
	require.NoError(t, err)

	handle := service.NewModelHandle()
	if ready {
		require.NoError(t, handle.Swap(trainedBundle(t, contract)))
	}

	cache, err := service.NewPredictionCache(16)
	require.NoError(t, err)

	cfg := domain.ServerConfig{
		Host:              "127.0.0.1",
		Port:              0,
		CombinationPolicy: policy,
	}
	srv := NewServer(cfg, contract, handle, cache, nil, testLogger())
	return srv.Router()
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validRequest() map[string]any {
	return map[string]any{
		"Patient_ID":              "P123",
		"Age":                     45,
		"Gender":                  "Male",
		"Condition":               "Hypertension",
		"Drug_Name":               "Amlodipine",
		"Dosage_mg":               50,
		"Treatment_Duration_days": 90,
		"Side_Effects":            "None",
	}
}

func TestHealth_NotReady(t *testing.T) {
	router := testServer(t, false, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp["status"])
	assert.Equal(t, false, resp["model_loaded"])
}

func TestHealth_Ready(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["model_loaded"])
	assert.Equal(t, "v-test0001", resp["model_version"])
	assert.NotEmpty(t, resp["contract_hash"])
}

func TestPredict_Valid(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodPost, "/api/v1/predict", validRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "P123", resp.PatientID)
	assert.GreaterOrEqual(t, resp.ImprovementScore, 0.0)
	assert.LessOrEqual(t, resp.ImprovementScore, 10.0)
	assert.Equal(t, "v-test0001", resp.ModelVersion)
	assert.NotEmpty(t, resp.Disclaimer)
	assert.Empty(t, resp.Warnings)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPredict_RepeatedRequestIsStable(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	w1 := doJSON(router, http.MethodPost, "/api/v1/predict", validRequest())
	w2 := doJSON(router, http.MethodPost, "/api/v1/predict", validRequest())
	require.Equal(t, http.StatusOK, w1.Code)
	require.Equal(t, http.StatusOK, w2.Code)

	var r1, r2 PredictResponse
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &r1))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &r2))
	assert.Equal(t, r1.ImprovementScore, r2.ImprovementScore)
}

func TestPredict_NotReady(t *testing.T) {
	router := testServer(t, false, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodPost, "/api/v1/predict", validRequest())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrCodeArtifactUnavailable, resp["error"]["code"])
}

func TestPredict_ValidationFailure(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	body := validRequest()
	body["Age"] = 150
	w := doJSON(router, http.MethodPost, "/api/v1/predict", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Error      domain.ServiceError `json:"error"`
		Violations []domain.Violation  `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrCodeValidation, resp.Error.Code)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, "Age", resp.Violations[0].Field)
	assert.Equal(t, domain.ViolationOutOfRange, resp.Violations[0].Kind)
}

func TestPredict_ReportsAllViolations(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	body := validRequest()
	body["Age"] = 150
	body["Gender"] = "Unknown"
	delete(body, "Patient_ID")
	w := doJSON(router, http.MethodPost, "/api/v1/predict", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Violations []domain.Violation `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Violations, 3)
}

func TestPredict_UntestedCombination_Block(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	// Both values pass their enums; the pair was never trained on.
	body := validRequest()
	body["Drug_Name"] = "Metformin"
	w := doJSON(router, http.MethodPost, "/api/v1/predict", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Error      domain.ServiceError `json:"error"`
		Violations []domain.Violation  `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.ErrCodeUntestedCombination, resp.Error.Code)
	require.Len(t, resp.Violations, 1)
	assert.Equal(t, domain.ViolationUntestedCombination, resp.Violations[0].Kind)
}

func TestPredict_UntestedCombination_Warn(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyWarn)

	body := validRequest()
	body["Drug_Name"] = "Metformin"
	w := doJSON(router, http.MethodPost, "/api/v1/predict", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, domain.ViolationUntestedCombination, resp.Warnings[0].Kind)
	assert.GreaterOrEqual(t, resp.ImprovementScore, 0.0)
	assert.LessOrEqual(t, resp.ImprovementScore, 10.0)
}

func TestPredict_WarnPolicyStillBlocksOtherViolations(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyWarn)

	body := validRequest()
	body["Drug_Name"] = "Metformin"
	body["Age"] = 150
	w := doJSON(router, http.MethodPost, "/api/v1/predict", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPredict_MalformedJSON(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDropdownValues(t *testing.T) {
	// Dropdowns come from the contract, so they work before model load.
	router := testServer(t, false, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodGet, "/api/v1/dropdown-values", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.DropdownValues
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Male", "Female"}, resp.Genders)
	assert.Equal(t, []string{"Hypertension", "Diabetes", "Asthma"}, resp.Conditions)
	assert.Equal(t, []string{"Amlodipine", "Metformin", "Albuterol"}, resp.Drugs)
	assert.Equal(t, []float64{10, 25, 50, 100, 250, 500}, resp.Dosages)
}

func TestSecurityHeaders(t *testing.T) {
	router := testServer(t, false, domain.CombinationPolicyBlock)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

// auditServer builds a ready router backed by a real on-disk audit store.
func auditServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	contract, err := domain.ParseContract([]byte(testContractYAML))
	require.NoError(t, err)

	handle := service.NewModelHandle()
	require.NoError(t, handle.Swap(trainedBundle(t, contract)))

	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := domain.ServerConfig{
		Host:              "127.0.0.1",
		CombinationPolicy: domain.CombinationPolicyBlock,
	}
	srv := NewServer(cfg, contract, handle, nil, store, testLogger())
	return srv.Router()
}

func TestAuditList_RecordsTrail(t *testing.T) {
	router := auditServer(t)

	require.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/api/v1/predict", validRequest()).Code)
	bad := validRequest()
	bad["Age"] = 150
	require.Equal(t, http.StatusUnprocessableEntity, doJSON(router, http.MethodPost, "/api/v1/predict", bad).Code)

	w := doJSON(router, http.MethodGet, "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Count   int64          `json:"count"`
		Limit   int            `json:"limit"`
		Offset  int            `json:"offset"`
		Entries []*audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Count)
	require.Len(t, resp.Entries, 2)

	// Newest first: the rejection came second.
	assert.Equal(t, audit.OutcomeRejected, resp.Entries[0].Outcome)
	assert.NotEmpty(t, resp.Entries[0].Detail)
	assert.Equal(t, audit.OutcomeServed, resp.Entries[1].Outcome)
	assert.Equal(t, "P123", resp.Entries[1].PatientID)
	assert.Equal(t, "v-test0001", resp.Entries[1].ModelVersion)
}

func TestAuditList_Pagination(t *testing.T) {
	router := auditServer(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/api/v1/predict", validRequest()).Code)
	}

	w := doJSON(router, http.MethodGet, "/api/v1/audit?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count   int64          `json:"count"`
		Entries []*audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Count)
	assert.Len(t, resp.Entries, 1)
}

func TestAuditList_BadParams(t *testing.T) {
	router := auditServer(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(router, http.MethodGet, "/api/v1/audit?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(router, http.MethodGet, "/api/v1/audit?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(router, http.MethodGet, "/api/v1/audit?offset=-1", nil).Code)
}

func TestAuditExport(t *testing.T) {
	router := auditServer(t)

	require.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/api/v1/predict", validRequest()).Code)

	w := doJSON(router, http.MethodGet, "/api/v1/audit/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audit-export.json")

	var export audit.Export
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Entries, 1)
	assert.Equal(t, audit.OutcomeServed, export.Entries[0].Outcome)
}

func TestAuditRoutes_AbsentWhenDisabled(t *testing.T) {
	router := testServer(t, true, domain.CombinationPolicyBlock)

	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/v1/audit", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(router, http.MethodGet, "/api/v1/audit/export", nil).Code)
}

func TestServer_HTTPTimeouts(t *testing.T) {
	gin.SetMode(gin.TestMode)

	contract, err := domain.ParseContract([]byte(testContractYAML))
	require.NoError(t, err)

	cfg := domain.ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := NewServer(cfg, contract, service.NewModelHandle(), nil, nil, testLogger())

	hs := srv.httpServer()
	assert.Equal(t, "127.0.0.1:8080", hs.Addr)
	assert.Equal(t, 5*time.Second, hs.ReadTimeout)
	assert.Equal(t, 10*time.Second, hs.WriteTimeout)
	assert.Equal(t, 60*time.Second, hs.IdleTimeout)
}
