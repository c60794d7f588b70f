package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/reelworks/reel-backend/internal"
)

// GetMyWorkspaces returns workspaces the current user belongs to.
func GetMyWorkspaces(c *gin.Context) {
	userID, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	type row struct {
		ID      uuid.UUID `db:"id"`
		Name    string    `db:"name"`
		Slug    string    `db:"slug"`
		PlanID  string    `db:"plan_id"`
		Credits int64     `db:"credits"`
		Role    string    `db:"role"`
	}
	rows := []row{}
	err := database.DB.Select(&rows, `
        SELECT w.id, w.name, w.slug, w.plan_id, w.credits, m.role
        FROM workspaces w
        JOIN workspace_members m ON m.workspace_id = w.id
        WHERE m.user_id = $1
        ORDER BY w.created_at ASC`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch workspaces"})
		return
	}

	resp := make([]WorkspaceResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, WorkspaceResponse{ID: r.ID, Name: r.Name, Slug: r.Slug, PlanID: r.PlanID, Credits: r.Credits, Role: r.Role})
	}
	c.JSON(http.StatusOK, resp)
}

// CreateWorkspace creates a new workspace owned by the caller.
func CreateWorkspace(c *gin.Context) {
	userIDStr := c.GetString("userID")
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if ok, why := ValidateSlug(req.Slug); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": why})
		return
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ws := database.Workspace{
		ID:        uuid.New(),
		Name:      req.Name,
		Slug:      req.Slug,
		OwnerID:   userID,
		PlanID:    "free",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err = tx.NamedExec(`INSERT INTO workspaces (id, name, slug, owner_id, plan_id, credits, created_at, updated_at)
	        VALUES (:id, :name, :slug, :owner_id, :plan_id, 0, :created_at, :updated_at)`, ws)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") {
			c.JSON(http.StatusConflict, gin.H{"error": "Slug already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create workspace"})
		}
		return
	}
	_, err = tx.Exec(`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES ($1, $2, 'owner', NOW())`, ws.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create workspace membership"})
		return
	}
	var grant int64
	if grant, err = grantPlanCredits(tx, ws.ID, ws.PlanID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant plan credits"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit workspace creation"})
		return
	}

	recordEvent(ws.ID, &userID, "workspace.created", map[string]any{"slug": ws.Slug})
	c.JSON(http.StatusCreated, WorkspaceResponse{ID: ws.ID, Name: ws.Name, Slug: ws.Slug, PlanID: ws.PlanID, Credits: grant, Role: "owner"})
}

// GetWorkspaceByID returns a single workspace's info by ID (requires membership)
func GetWorkspaceByID(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	var row struct {
		ID      uuid.UUID `db:"id"`
		Name    string    `db:"name"`
		Slug    string    `db:"slug"`
		PlanID  string    `db:"plan_id"`
		Credits int64     `db:"credits"`
	}
	err := database.DB.Get(&row, `SELECT id, name, slug, plan_id, credits FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	c.JSON(http.StatusOK, WorkspaceResponse{ID: row.ID, Name: row.Name, Slug: row.Slug, PlanID: row.PlanID, Credits: row.Credits, Role: c.GetString("workspaceRole")})
}

// UpdateWorkspace updates mutable workspace settings (name, slug). Admin only.
func UpdateWorkspace(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	var req UpdateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Name == nil && req.Slug == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid name"})
		return
	}
	if req.Slug != nil {
		if ok, why := ValidateSlug(*req.Slug); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": why})
			return
		}
	}
	if req.Name != nil {
		if _, err := database.DB.Exec(`UPDATE workspaces SET name=$1, updated_at=NOW() WHERE id=$2`, *req.Name, workspaceID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update workspace"})
			return
		}
	}
	if req.Slug != nil {
		if _, err := database.DB.Exec(`UPDATE workspaces SET slug=$1, updated_at=NOW() WHERE id=$2`, *req.Slug, workspaceID); err != nil {
			if strings.Contains(err.Error(), "unique constraint") {
				c.JSON(http.StatusConflict, gin.H{"error": "Slug already taken"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update slug"})
			return
		}
	}
	GetWorkspaceByID(c)
}

// DeleteWorkspace removes a workspace and all dependent rows. Owner only.
func DeleteWorkspace(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	res, err := database.DB.Exec(`DELETE FROM workspaces WHERE id=$1`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete workspace"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Workspace not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
