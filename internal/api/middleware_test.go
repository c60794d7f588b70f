package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	database "github.com/reelworks/reel-backend/internal"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func TestSlidingLimiterAllowAndRetryAfter(t *testing.T) {
	l := newSlidingLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if ok, _ := l.allow("client-a"); !ok {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	ok, retryAfter := l.allow("client-a")
	if ok {
		t.Fatal("fourth request should be limited")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}
	// other clients are unaffected
	if ok, _ := l.allow("client-b"); !ok {
		t.Fatal("separate client should not be limited")
	}
}

func TestRateLimitKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/videos", nil)
	if got := rateLimitKey(c); got != "ip:192.0.2.1" {
		t.Fatalf("expected ip key, got %q", got)
	}

	c.Set("apiKeyPrefix", "abcd1234")
	if got := rateLimitKey(c); got != "key:abcd1234" {
		t.Fatalf("expected key prefix key, got %q", got)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/v1/videos", RateLimitMiddleware(2), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/videos", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/videos", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on limited response")
	}
}

func TestPublicRateLimitMiddleware_ThrottlesLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_PUBLIC_RPM", "2")

	r := gin.New()
	r.POST("/auth/login", PublicRateLimitMiddlewareFromEnv(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget spent, got %d", w.Code)
	}
}

func TestPublicRateLimitMiddleware_DisabledWithZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REEL_PUBLIC_RPM", "0")

	r := gin.New()
	r.POST("/auth/login", PublicRateLimitMiddlewareFromEnv(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("POST", "/auth/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("limiter should be disabled, got %d on attempt %d", w.Code, i+1)
		}
	}
}

func TestVersionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(VersionMiddleware("2026-08-01"))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("reelVersion"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if got := w.Header().Get("X-REEL-Version"); got != "2026-08-01" {
		t.Fatalf("expected default version header, got %q", got)
	}

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("REEL-Version", "2026-06-15")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-REEL-Version"); got != "2026-06-15" {
		t.Fatalf("expected pinned version header, got %q", got)
	}
	if w.Body.String() != "2026-06-15" {
		t.Fatalf("handler saw version %q", w.Body.String())
	}
}

func TestWorkspaceParamFromKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	wsID := uuid.New().String()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/videos", nil)
	c.Set("workspaceID", wsID)

	WorkspaceParamFromKey()(c)

	if got := c.Param("workspaceId"); got != wsID {
		t.Fatalf("expected workspaceId param %q, got %q", wsID, got)
	}
}

func TestWorkspaceMemberMiddleware_NonMemberForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	wsID := uuid.New()
	userID := uuid.New().String()

	mock.ExpectQuery("SELECT role FROM workspace_members").
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	r := gin.New()
	r.GET("/workspaces/:workspaceId", func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}, WorkspaceMemberMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/workspaces/"+wsID.String(), nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d, body=%s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestRequireWorkspaceAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for role, want := range map[string]int{
		"owner":  http.StatusOK,
		"admin":  http.StatusOK,
		"member": http.StatusForbidden,
	} {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			c.Set("workspaceRole", role)
			c.Next()
		}, RequireWorkspaceAdmin(), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
		if w.Code != want {
			t.Errorf("role %s: expected %d, got %d", role, want, w.Code)
		}
	}
}
