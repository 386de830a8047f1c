package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aura-dx/aura/internal/diagnosis"
	"github.com/aura-dx/aura/internal/store"
	"github.com/aura-dx/aura/internal/telemetry"
)

// Runner executes one diagnostic run. The pipeline implements it.
type Runner interface {
	Run(ctx context.Context, rec *diagnosis.RunRecord) *diagnosis.RunRecord
}

// RunStore is the slice of the store the handlers read and write.
type RunStore interface {
	SaveRun(ctx context.Context, rec *diagnosis.RunRecord) error
	GetRun(ctx context.Context, runID string) (*diagnosis.RunRecord, error)
	LatestRunByPatient(ctx context.Context, patientID int) (*diagnosis.RunRecord, error)
	ListRunsByPatient(ctx context.Context, patientID, limit int) ([]store.RunSummary, error)
	ListAuditEvents(ctx context.Context, runID string) ([]store.AuditEvent, error)
}

// PatientReader is the slice of the patient directory the handlers need.
type PatientReader interface {
	GetPatient(ctx context.Context, id int) (diagnosis.PatientRecord, error)
	ListPatients(ctx context.Context) ([]diagnosis.PatientRecord, error)
}

type DiagnoseRequest struct {
	PatientID   int    `json:"patient_id"`
	SymptomText string `json:"symptom_text"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// DiagnosisHandler serves the diagnostic API.
type DiagnosisHandler struct {
	Runner   Runner
	Runs     RunStore
	Patients PatientReader
	Cache    *ResultCache
	Stats    *telemetry.Collector
	Log      *log.Logger

	// RunTimeout bounds one whole diagnostic run; zero means the request
	// context alone bounds it.
	RunTimeout time.Duration
}

func (h *DiagnosisHandler) Register(g *echo.Group, secret []byte) {
	g.Use(EchoAuthMiddleware(secret))
	g.POST("/diagnose", h.diagnose)
	g.GET("/runs/:run_id", h.getRun)
	g.GET("/runs/:run_id/audit", h.getRunAudit)
	g.GET("/patients", h.listPatients)
	g.GET("/patients/:id", h.getPatient)
	g.GET("/patients/:id/runs", h.listPatientRuns)
	g.GET("/patients/:id/latest_result", h.latestResult)
	g.GET("/stats", h.stats)
}

// newRunID mirrors the historical id format so stored runs stay greppable:
// diag_{unix}_{8 hex chars}.
func newRunID() string {
	return fmt.Sprintf("diag_%d_%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (h *DiagnosisHandler) diagnose(c echo.Context) error {
	var req DiagnoseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if strings.TrimSpace(req.SymptomText) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symptom_text is required")
	}
	var image []byte
	if req.ImageBase64 != "" {
		var err error
		image, err = base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "image_base64 is not valid base64")
		}
	}

	ctx := c.Request().Context()
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}
	rec := diagnosis.NewRunRecord(newRunID(), req.PatientID, req.SymptomText, image)
	rec = h.Runner.Run(ctx, rec)

	if err := h.Runs.SaveRun(ctx, rec); err != nil {
		h.logf("failed to persist run %s: %v", rec.RunID, err)
	}

	if rec.FatalStep != "" {
		if rec.FatalStep == diagnosis.StepPatientLookup && strings.Contains(rec.Error, diagnosis.ErrPatientNotFound.Error()) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, rec.Error)
	}

	if h.Cache != nil {
		if err := h.Cache.SetLatest(ctx, rec); err != nil {
			h.logf("failed to cache latest result for patient %d: %v", rec.PatientID, err)
		}
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *DiagnosisHandler) getRun(c echo.Context) error {
	rec, err := h.Runs.GetRun(c.Request().Context(), c.Param("run_id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *DiagnosisHandler) getRunAudit(c echo.Context) error {
	events, err := h.Runs.ListAuditEvents(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (h *DiagnosisHandler) listPatients(c echo.Context) error {
	patients, err := h.Patients.ListPatients(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if patients == nil {
		patients = []diagnosis.PatientRecord{}
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *DiagnosisHandler) getPatient(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, err := h.Patients.GetPatient(c.Request().Context(), id)
	if errors.Is(err, diagnosis.ErrPatientNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *DiagnosisHandler) listPatientRuns(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.Runs.ListRunsByPatient(c.Request().Context(), id, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *DiagnosisHandler) latestResult(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	ctx := c.Request().Context()

	if h.Cache != nil {
		if rec, ok := h.Cache.GetLatest(ctx, id); ok {
			return c.JSON(http.StatusOK, rec)
		}
	}

	rec, err := h.Runs.LatestRunByPatient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no runs for patient")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Cache != nil {
		if err := h.Cache.SetLatest(ctx, rec); err != nil {
			h.logf("failed to cache latest result for patient %d: %v", id, err)
		}
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *DiagnosisHandler) stats(c echo.Context) error {
	if h.Stats == nil {
		return c.JSON(http.StatusOK, telemetry.Snapshot{})
	}
	return c.JSON(http.StatusOK, h.Stats.GetSnapshot())
}

func (h *DiagnosisHandler) logf(format string, args ...any) {
	if h.Log != nil {
		h.Log.Printf(format, args...)
	}
}
