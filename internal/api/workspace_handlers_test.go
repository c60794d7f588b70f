package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	database "github.com/reelworks/reel-backend/internal"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// A fresh workspace starts with its plan's monthly allowance, not an empty
// balance, and the grant lands in the ledger.
func TestCreateWorkspace_SeedsPlanCredits(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO workspaces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workspace_members").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT monthly_credits FROM plans").
		WillReturnRows(sqlmock.NewRows([]string{"monthly_credits"}).AddRow(30))
	mock.ExpectExec("UPDATE workspaces SET credits").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(sqlmock.AnyArg(), int64(30)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO event_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := gin.New()
	r.POST("/workspaces", func(c *gin.Context) {
		c.Set("userID", uuid.New().String())
		CreateWorkspace(c)
	})

	body := strings.NewReader(`{"name":"Acme Studio","slug":"acme-studio"}`)
	req := httptest.NewRequest("POST", "/workspaces", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"credits":30`) {
		t.Fatalf("response should report the seeded balance, got %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
