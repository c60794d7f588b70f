package api

import (
	"testing"

	database "github.com/reelworks/reel-backend/internal"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func TestRecoverStalePublishing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectExec("UPDATE scheduled_posts SET status='scheduled'").
		WithArgs(int(publishingClaimTTL.Seconds())).
		WillReturnResult(sqlmock.NewResult(0, 2))

	recoverStalePublishing()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
