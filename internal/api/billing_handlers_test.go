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

func TestDebitCredits_InsufficientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()

	mock.ExpectBegin()
	// guarded update touches no rows when balance < amount
	mock.ExpectExec("UPDATE workspaces SET credits = credits -").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := database.DB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ok, err := debitCredits(tx, wsID, 5, "processing", nil)
	if err != nil {
		t.Fatalf("debitCredits: %v", err)
	}
	if ok {
		t.Fatal("debit should fail when balance is insufficient")
	}
	_ = tx.Rollback()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestDebitCredits_WritesLedgerRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()
	videoID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE workspaces SET credits = credits -").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(wsID, int64(-3), "processing", &videoID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := database.DB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ok, err := debitCredits(tx, wsID, 3, "processing", &videoID)
	if err != nil || !ok {
		t.Fatalf("debitCredits: ok=%v err=%v", ok, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestBillingWebhook_RejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_BILLING_WEBHOOK_SECRET", "whsec_test")

	r := gin.New()
	r.POST("/webhooks/billing", BillingWebhook)

	body := `{"type":"invoice.paid"}`
	req := httptest.NewRequest("POST", "/webhooks/billing", strings.NewReader(body))
	req.Header.Set("Reel-Signature", fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestBillingWebhook_AcksUnknownEventType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_BILLING_WEBHOOK_SECRET", "whsec_test")

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()
	// unknown types still land in the event log
	mock.ExpectExec("INSERT INTO event_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := fmt.Sprintf(`{"type":"invoice.upcoming","data":{"workspace_id":"%s"}}`, wsID)
	ts := time.Now().Unix()
	sig := utils.ComputeWebhookSignature("whsec_test", ts, []byte(body))

	r := gin.New()
	r.POST("/webhooks/billing", BillingWebhook)

	req := httptest.NewRequest("POST", "/webhooks/billing", strings.NewReader(body))
	req.Header.Set("Reel-Signature", fmt.Sprintf("t=%d,v1=%s", ts, sig))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
