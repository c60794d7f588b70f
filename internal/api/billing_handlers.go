package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

const billingSignatureTolerance = 5 * time.Minute

// ListPlans returns the plan catalog.
func ListPlans(c *gin.Context) {
	plans := []database.Plan{}
	if err := database.DB.Select(&plans, `SELECT id, name, monthly_credits, max_members, max_videos, price_cents FROM plans ORDER BY price_cents ASC`); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list plans"})
		return
	}
	c.JSON(http.StatusOK, plans)
}

// GetBilling returns the workspace's subscription, plan, and credit balance.
func GetBilling(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	var row struct {
		PlanID           string     `db:"plan_id"`
		PlanName         string     `db:"plan_name"`
		Credits          int64      `db:"credits"`
		MonthlyCredits   int64      `db:"monthly_credits"`
		Status           *string    `db:"status"`
		CurrentPeriodEnd *time.Time `db:"current_period_end"`
	}
	err := database.DB.Get(&row, `
        SELECT w.plan_id, p.name AS plan_name, w.credits, p.monthly_credits, s.status, s.current_period_end
        FROM workspaces w
        JOIN plans p ON p.id = w.plan_id
        LEFT JOIN subscriptions s ON s.workspace_id = w.id
        WHERE w.id=$1`, workspaceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	status := "free"
	if row.Status != nil {
		status = *row.Status
	}
	c.JSON(http.StatusOK, gin.H{
		"plan_id":            row.PlanID,
		"plan_name":          row.PlanName,
		"credits":            row.Credits,
		"monthly_credits":    row.MonthlyCredits,
		"status":             status,
		"current_period_end": row.CurrentPeriodEnd,
	})
}

// GetUsage returns the credit ledger, newest first.
func GetUsage(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	entries := []database.CreditEntry{}
	err := database.DB.Select(&entries, `SELECT id, workspace_id, delta, reason, video_id, created_at
	        FROM credit_ledger WHERE workspace_id=$1 ORDER BY id DESC LIMIT $2`, workspaceID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch usage"})
		return
	}
	type entry struct {
		ID        int64      `json:"id"`
		Delta     int64      `json:"delta"`
		Reason    string     `json:"reason"`
		VideoID   *uuid.UUID `json:"video_id,omitempty"`
		CreatedAt time.Time  `json:"created_at"`
	}
	resp := make([]entry, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entry{ID: e.ID, Delta: e.Delta, Reason: e.Reason, VideoID: e.VideoID, CreatedAt: e.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}

type CheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CreateCheckoutIntent records a pending plan change and returns the
// payment provider's checkout URL. The actual payment UI lives with the
// provider; completion arrives through the billing webhook.
func CreateCheckoutIntent(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	var plan database.Plan
	if err := database.DB.Get(&plan, `SELECT id, name, monthly_credits, max_members, max_videos, price_cents FROM plans WHERE id=$1`, req.PlanID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown plan"})
		return
	}
	checkoutBase := os.Getenv("REEL_CHECKOUT_URL")
	if checkoutBase == "" {
		checkoutBase = "https://billing.example.com/checkout"
	}
	recordEvent(workspaceID, actorID(c), "billing.checkout_started", map[string]any{"plan_id": plan.ID})
	c.JSON(http.StatusOK, gin.H{
		"checkout_url": fmt.Sprintf("%s?workspace=%s&plan=%s", checkoutBase, workspaceID, plan.ID),
		"plan_id":      plan.ID,
		"price_cents":  plan.PriceCents,
	})
}

type billingEvent struct {
	Type string `json:"type"`
	Data struct {
		WorkspaceID      uuid.UUID  `json:"workspace_id"`
		PlanID           string     `json:"plan_id"`
		Status           string     `json:"status"`
		ProviderRef      string     `json:"provider_ref"`
		CurrentPeriodEnd *time.Time `json:"current_period_end"`
	} `json:"data"`
}

// BillingWebhook ingests payment-provider events. Signature: Stripe-style
// "t=<unix>,v1=<hex>" over "{ts}.{body}" with REEL_BILLING_WEBHOOK_SECRET.
// Unknown event types are acked with 200 so the provider stops retrying.
func BillingWebhook(c *gin.Context) {
	secret := os.Getenv("REEL_BILLING_WEBHOOK_SECRET")
	if secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Billing webhook not configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if err := utils.VerifySignedPayload(secret, c.GetHeader("Reel-Signature"), body, billingSignatureTolerance); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var evt billingEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}

	switch evt.Type {
	case "subscription.updated":
		if err := applySubscriptionUpdate(evt, "active"); err != nil {
			log.Printf("billing webhook: subscription.updated failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply subscription"})
			return
		}
	case "subscription.canceled":
		if err := applySubscriptionUpdate(evt, "canceled"); err != nil {
			log.Printf("billing webhook: subscription.canceled failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel subscription"})
			return
		}
	case "invoice.paid":
		if err := resetPeriodCredits(evt.Data.WorkspaceID); err != nil {
			log.Printf("billing webhook: invoice.paid failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant credits"})
			return
		}
	default:
		// ack unknown types; the provider adds event types faster than we do
	}
	recordEvent(evt.Data.WorkspaceID, nil, "billing."+evt.Type, map[string]any{"plan_id": evt.Data.PlanID})
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func applySubscriptionUpdate(evt billingEvent, fallbackStatus string) error {
	status := evt.Data.Status
	if status == "" {
		status = fallbackStatus
	}
	planID := evt.Data.PlanID
	if fallbackStatus == "canceled" {
		planID = "free"
	}
	tx, err := database.DB.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(`INSERT INTO subscriptions (workspace_id, plan_id, status, provider_ref, current_period_end, updated_at)
	        VALUES ($1, $2, $3, $4, $5, NOW())
	        ON CONFLICT (workspace_id) DO UPDATE SET plan_id=EXCLUDED.plan_id, status=EXCLUDED.status,
	            provider_ref=EXCLUDED.provider_ref, current_period_end=EXCLUDED.current_period_end, updated_at=NOW()`,
		evt.Data.WorkspaceID, planID, status, evt.Data.ProviderRef, evt.Data.CurrentPeriodEnd); err != nil {
		return err
	}
	if _, err = tx.Exec(`UPDATE workspaces SET plan_id=$1, updated_at=NOW() WHERE id=$2`, planID, evt.Data.WorkspaceID); err != nil {
		return err
	}
	return tx.Commit()
}

// resetPeriodCredits tops the workspace balance up to its plan allowance.
func resetPeriodCredits(workspaceID uuid.UUID) error {
	tx, err := database.DB.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	var allowance int64
	if err = tx.Get(&allowance, `SELECT p.monthly_credits FROM workspaces w JOIN plans p ON p.id=w.plan_id WHERE w.id=$1`, workspaceID); err != nil {
		return err
	}
	if _, err = tx.Exec(`UPDATE workspaces SET credits=$1, updated_at=NOW() WHERE id=$2`, allowance, workspaceID); err != nil {
		return err
	}
	if _, err = tx.Exec(`INSERT INTO credit_ledger (workspace_id, delta, reason, created_at) VALUES ($1, $2, 'period_grant', NOW())`, workspaceID, allowance); err != nil {
		return err
	}
	return tx.Commit()
}

// grantPlanCredits seeds a newly created workspace with its plan's monthly
// allowance inside tx and records the grant in the ledger. Returns the
// granted amount so callers can report the opening balance.
func grantPlanCredits(tx *sqlx.Tx, workspaceID uuid.UUID, planID string) (int64, error) {
	var grant int64
	if err := tx.Get(&grant, `SELECT monthly_credits FROM plans WHERE id=$1`, planID); err != nil {
		return 0, err
	}
	if grant <= 0 {
		return 0, nil
	}
	if _, err := tx.Exec(`UPDATE workspaces SET credits=$1, updated_at=NOW() WHERE id=$2`, grant, workspaceID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`INSERT INTO credit_ledger (workspace_id, delta, reason, created_at) VALUES ($1, $2, 'period_grant', NOW())`,
		workspaceID, grant); err != nil {
		return 0, err
	}
	return grant, nil
}

// debitCredits atomically deducts amount from the workspace balance inside
// tx. Returns false when the balance is insufficient; the balance never
// goes negative.
func debitCredits(tx *sqlx.Tx, workspaceID uuid.UUID, amount int64, reason string, videoID *uuid.UUID) (bool, error) {
	res, err := tx.Exec(`UPDATE workspaces SET credits = credits - $1, updated_at=NOW() WHERE id=$2 AND credits >= $1`, amount, workspaceID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	_, err = tx.Exec(`INSERT INTO credit_ledger (workspace_id, delta, reason, video_id, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		workspaceID, -amount, reason, videoID)
	return err == nil, err
}

// refundCredits returns amount to the workspace balance inside tx.
func refundCredits(tx *sqlx.Tx, workspaceID uuid.UUID, amount int64, reason string, videoID *uuid.UUID) error {
	if amount <= 0 {
		return nil
	}
	if _, err := tx.Exec(`UPDATE workspaces SET credits = credits + $1, updated_at=NOW() WHERE id=$2`, amount, workspaceID); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO credit_ledger (workspace_id, delta, reason, video_id, created_at) VALUES ($1, $2, $3, $4, NOW())`,
		workspaceID, amount, reason, videoID)
	return err
}
