package api

import (
	"database/sql"
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
)

var sampleTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestProcessingCost(t *testing.T) {
	cases := []struct {
		durationMs int64
		want       int64
	}{
		{0, 1},
		{1, 1},
		{59999, 1},
		{60000, 1},
		{60001, 2},
		{180000, 3},
		{3599999, 60},
	}
	for _, tc := range cases {
		if got := processingCost(tc.durationMs); got != tc.want {
			t.Errorf("processingCost(%d) = %d, want %d", tc.durationMs, got, tc.want)
		}
	}
}

func TestGetVideo_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()
	videoID := uuid.New()

	mock.ExpectQuery("FROM videos WHERE id=").
		WillReturnError(sql.ErrNoRows)

	r := gin.New()
	r.GET("/workspaces/:workspaceId/videos/:videoId", GetVideo)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/workspaces/"+wsID.String()+"/videos/"+videoID.String(), nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestCreateVideo_PlanLimitReached(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()

	mock.ExpectQuery("SELECT p.max_videos").
		WillReturnRows(sqlmock.NewRows([]string{"max_videos", "count"}).AddRow(10, 10))

	r := gin.New()
	r.POST("/workspaces/:workspaceId/videos", func(c *gin.Context) {
		c.Set("userID", uuid.New().String())
		CreateVideo(c)
	})

	body := strings.NewReader(`{"title":"Launch teaser"}`)
	req := httptest.NewRequest("POST", "/workspaces/"+wsID.String()+"/videos", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestDeleteVideo_ProcessingConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()
	videoID := uuid.New()

	cols := []string{"id", "workspace_id", "title", "source_url", "status", "duration_ms", "pipeline_job_id", "credits_charged", "created_by_user_id", "failure_reason", "created_at", "updated_at", "deleted_at"}
	mock.ExpectQuery("FROM videos WHERE id=").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(videoID, wsID, "Launch teaser", nil, "processing", nil, "job-1", 3, uuid.New(), nil, sampleTime, sampleTime, nil))

	r := gin.New()
	r.DELETE("/workspaces/:workspaceId/videos/:videoId", DeleteVideo)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/workspaces/"+wsID.String()+"/videos/"+videoID.String(), nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for processing video, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
