package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	database "github.com/reelworks/reel-backend/internal"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reelworks/reel-backend/internal/utils"
)

func signedPipelineRequest(t *testing.T, secret, body string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	sig := utils.ComputeWebhookSignature(secret, ts, []byte(body))
	req := httptest.NewRequest("POST", "/webhooks/pipeline", strings.NewReader(body))
	req.Header.Set("Reel-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	return req
}

func TestPipelineWebhook_StaleJobConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_PIPELINE_SECRET", "pipesecret")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	videoID := uuid.New()
	wsID := uuid.New()
	currentJob := "job-current"

	mock.ExpectQuery("SELECT id, workspace_id, status, pipeline_job_id, credits_charged FROM videos").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "status", "pipeline_job_id", "credits_charged"}).
			AddRow(videoID, wsID, "processing", currentJob, 2))

	r := gin.New()
	r.POST("/webhooks/pipeline", PipelineWebhook)

	body := fmt.Sprintf(`{"job_id":"job-old","video_id":"%s","status":"ready"}`, videoID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedPipelineRequest(t, "pipesecret", body))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale job, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPipelineWebhook_RetriedCallbackAcked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_PIPELINE_SECRET", "pipesecret")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	videoID := uuid.New()
	wsID := uuid.New()
	job := "job-1"

	// already settled; a retried callback must be acked without touching the row
	mock.ExpectQuery("SELECT id, workspace_id, status, pipeline_job_id, credits_charged FROM videos").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "status", "pipeline_job_id", "credits_charged"}).
			AddRow(videoID, wsID, "ready", job, 2))

	r := gin.New()
	r.POST("/webhooks/pipeline", PipelineWebhook)

	body := fmt.Sprintf(`{"job_id":"%s","video_id":"%s","status":"ready"}`, job, videoID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedPipelineRequest(t, "pipesecret", body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for retried callback, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPipelineWebhook_UnsignedRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_PIPELINE_SECRET", "pipesecret")

	r := gin.New()
	r.POST("/webhooks/pipeline", PipelineWebhook)

	req := httptest.NewRequest("POST", "/webhooks/pipeline", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}
}
