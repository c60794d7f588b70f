package api

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

const inviteTTL = 7 * 24 * time.Hour

// ListMembers returns all members of the workspace.
func ListMembers(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	rows := []struct {
		UserID   uuid.UUID `db:"user_id"`
		FullName string    `db:"full_name"`
		Email    string    `db:"email"`
		Role     string    `db:"role"`
		JoinedAt time.Time `db:"joined_at"`
	}{}
	err := database.DB.Select(&rows, `
        SELECT m.user_id, u.full_name, u.email, m.role, m.joined_at
        FROM workspace_members m
        JOIN users u ON u.id = m.user_id
        WHERE m.workspace_id = $1
        ORDER BY m.joined_at ASC`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch members"})
		return
	}
	resp := make([]MemberResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, MemberResponse{UserID: r.UserID, FullName: r.FullName, Email: r.Email, Role: r.Role, JoinedAt: r.JoinedAt})
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateMemberRole changes a member's role between admin and member.
// The owner role is only changed through ownership transfer.
func UpdateMemberRole(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	var currentRole string
	err = database.DB.Get(&currentRole, `SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, targetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	if currentRole == "owner" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Owner role can only change via ownership transfer"})
		return
	}
	if _, err := database.DB.Exec(`UPDATE workspace_members SET role=$1 WHERE workspace_id=$2 AND user_id=$3`, req.Role, workspaceID, targetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
		return
	}
	actor := actorID(c)
	recordEvent(uuid.MustParse(workspaceID), actor, "member.role_changed", map[string]any{"user_id": targetID, "role": req.Role})
	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "role": req.Role})
}

// RemoveMember removes a member from the workspace. The owner cannot be removed.
func RemoveMember(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	var currentRole string
	err = database.DB.Get(&currentRole, `SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, targetID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	if currentRole == "owner" {
		c.JSON(http.StatusForbidden, gin.H{"error": "The workspace owner cannot be removed"})
		return
	}
	if _, err := database.DB.Exec(`DELETE FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, targetID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}
	recordEvent(uuid.MustParse(workspaceID), actorID(c), "member.removed", map[string]any{"user_id": targetID})
	c.Status(http.StatusNoContent)
}

// TransferOwnership moves the owner role to another existing member. Owner only.
func TransferOwnership(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	var req TransferOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	callerID := c.GetString("userID")
	if req.UserID.String() == callerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Already the owner"})
		return
	}
	var targetRole string
	err := database.DB.Get(&targetRole, `SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Target user is not a member"})
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
	if _, err = tx.Exec(`UPDATE workspace_members SET role='admin' WHERE workspace_id=$1 AND user_id=$2`, workspaceID, callerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transfer ownership"})
		return
	}
	if _, err = tx.Exec(`UPDATE workspace_members SET role='owner' WHERE workspace_id=$1 AND user_id=$2`, workspaceID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transfer ownership"})
		return
	}
	if _, err = tx.Exec(`UPDATE workspaces SET owner_id=$1, updated_at=NOW() WHERE id=$2`, req.UserID, workspaceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transfer ownership"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit ownership transfer"})
		return
	}
	recordEvent(uuid.MustParse(workspaceID), actorID(c), "workspace.owner_transferred", map[string]any{"to": req.UserID})
	c.JSON(http.StatusOK, gin.H{"message": "Ownership transferred", "owner_id": req.UserID})
}

// CreateInvite creates a workspace invite and returns the signed token.
// The token is always in the response so callers can build the link;
// email delivery is best-effort on top.
func CreateInvite(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace id"})
		return
	}
	var req CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Seat limit from the workspace's plan.
	var seats struct {
		Members    int `db:"members"`
		MaxMembers int `db:"max_members"`
	}
	err = database.DB.Get(&seats, `
        SELECT (SELECT COUNT(1) FROM workspace_members WHERE workspace_id=$1) AS members,
               p.max_members
        FROM workspaces w JOIN plans p ON p.id = w.plan_id
        WHERE w.id=$1`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check plan limits"})
		return
	}
	if seats.MaxMembers > 0 && seats.Members >= seats.MaxMembers {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Member limit reached for current plan"})
		return
	}

	invite := database.WorkspaceInvite{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		Email:           email,
		Role:            req.Role,
		CreatedByUserID: uuid.MustParse(c.GetString("userID")),
		ExpiresAt:       time.Now().Add(inviteTTL),
		CreatedAt:       time.Now(),
	}
	_, err = database.DB.NamedExec(`INSERT INTO workspace_invites (id, workspace_id, email, role, created_by_user_id, expires_at, created_at)
	        VALUES (:id, :workspace_id, :email, :role, :created_by_user_id, :expires_at, :created_at)`, invite)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create invite"})
		return
	}
	token, err := utils.GenerateInviteToken(invite.ID, workspaceID, email, invite.ExpiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign invite token"})
		return
	}
	var wsName string
	_ = database.DB.Get(&wsName, `SELECT name FROM workspaces WHERE id=$1`, workspaceID)
	go SendInviteEmail(email, wsName, token)

	recordEvent(workspaceID, actorID(c), "invite.created", map[string]any{"email": email, "role": req.Role})
	c.JSON(http.StatusCreated, gin.H{"id": invite.ID, "email": email, "role": req.Role, "expires_at": invite.ExpiresAt, "token": token})
}

// ListInvites returns pending invites for the workspace.
func ListInvites(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	rows := []struct {
		ID        uuid.UUID `db:"id"`
		Email     string    `db:"email"`
		Role      string    `db:"role"`
		ExpiresAt time.Time `db:"expires_at"`
		CreatedAt time.Time `db:"created_at"`
	}{}
	err := database.DB.Select(&rows, `
        SELECT id, email, role, expires_at, created_at
        FROM workspace_invites
        WHERE workspace_id=$1 AND accepted_at IS NULL AND revoked_at IS NULL AND expires_at > NOW()
        ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list invites"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// RevokeInvite marks a pending invite revoked.
func RevokeInvite(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	inviteID, err := uuid.Parse(c.Param("inviteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invite id"})
		return
	}
	res, err := database.DB.Exec(`UPDATE workspace_invites SET revoked_at=NOW() WHERE id=$1 AND workspace_id=$2 AND accepted_at IS NULL AND revoked_at IS NULL`, inviteID, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke invite"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invite not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AcceptInvite joins the authenticated user to the inviting workspace.
func AcceptInvite(c *gin.Context) {
	userID, err := uuid.Parse(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req AcceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	claims, err := utils.ParseInviteToken(req.Token)
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "Invite token is invalid or expired"})
		return
	}
	inviteIDStr, _ := claims["invite_id"].(string)
	inviteID, err := uuid.Parse(inviteIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid invite token"})
		return
	}

	var invite database.WorkspaceInvite
	err = database.DB.Get(&invite, `SELECT id, workspace_id, email, role, created_by_user_id, expires_at, accepted_by, accepted_at, revoked_at, created_at FROM workspace_invites WHERE id=$1`, inviteID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusGone, gin.H{"error": "Invite no longer exists"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load invite"})
		}
		return
	}
	if invite.AcceptedAt != nil || invite.RevokedAt != nil || time.Now().After(invite.ExpiresAt) {
		c.JSON(http.StatusGone, gin.H{"error": "Invite already used, revoked, or expired"})
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
	// ON CONFLICT keeps accept idempotent for users already in the workspace.
	if _, err = tx.Exec(`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES ($1, $2, $3, NOW())
	        ON CONFLICT (workspace_id, user_id) DO NOTHING`, invite.WorkspaceID, userID, invite.Role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join workspace"})
		return
	}
	if _, err = tx.Exec(`UPDATE workspace_invites SET accepted_by=$1, accepted_at=NOW() WHERE id=$2`, userID, invite.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to consume invite"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit invite acceptance"})
		return
	}
	recordEvent(invite.WorkspaceID, &userID, "member.joined", map[string]any{"role": invite.Role})
	PublishMemberJoined(c.Request.Context(), invite.WorkspaceID.String(), userID.String())
	c.JSON(http.StatusOK, gin.H{"message": "Invite accepted", "workspace_id": invite.WorkspaceID, "role": invite.Role})
}

// actorID extracts the caller's user ID for event attribution, nil when absent.
func actorID(c *gin.Context) *uuid.UUID {
	if s := c.GetString("userID"); s != "" {
		if id, err := uuid.Parse(s); err == nil {
			return &id
		}
	}
	return nil
}
