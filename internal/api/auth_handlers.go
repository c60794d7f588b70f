package api

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

// RegisterUser handles user registration requests. A personal workspace is
// created alongside the user so every account lands somewhere usable.
func RegisterUser(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Handle != "" {
		if ok, why := ValidateHandle(req.Handle); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": why})
			return
		}
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	// All or nothing: user, workspace, and owner membership in one tx.
	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Println("Recovered in RegisterUser, rolling back transaction:", r)
			tx.Rollback()
		} else if err != nil {
			log.Println("Error in RegisterUser, rolling back transaction:", err)
			tx.Rollback()
		}
	}()

	newUser := database.User{
		ID:             uuid.New(),
		FullName:       req.FullName,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		HashedPassword: hashedPassword,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if req.Handle != "" {
		newUser.Handle = &req.Handle
	}
	userQuery := `INSERT INTO users (id, full_name, email, handle, hashed_password, created_at, updated_at)
				  VALUES (:id, :full_name, :email, :handle, :hashed_password, :created_at, :updated_at)`
	_, err = tx.NamedExec(userQuery, newUser)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") {
			if strings.Contains(err.Error(), "handle") {
				c.JSON(http.StatusConflict, gin.H{"error": "Handle already taken"})
			} else {
				c.JSON(http.StatusConflict, gin.H{"error": "Email address already registered"})
			}
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		}
		return // triggers the deferred rollback
	}

	newWorkspace := database.Workspace{
		ID:        uuid.New(),
		Name:      req.FullName + "'s Workspace",
		Slug:      personalWorkspaceSlug(),
		OwnerID:   newUser.ID,
		PlanID:    "free",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	wsQuery := `INSERT INTO workspaces (id, name, slug, owner_id, plan_id, credits, created_at, updated_at)
	            VALUES (:id, :name, :slug, :owner_id, :plan_id, 0, :created_at, :updated_at)`
	if _, err = tx.NamedExec(wsQuery, newWorkspace); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create personal workspace"})
		return
	}

	newMember := database.WorkspaceMember{
		WorkspaceID: newWorkspace.ID,
		UserID:      newUser.ID,
		Role:        "owner",
		JoinedAt:    time.Now(),
	}
	memberQuery := `INSERT INTO workspace_members (workspace_id, user_id, role, joined_at)
	                VALUES (:workspace_id, :user_id, :role, :joined_at)`
	if _, err = tx.NamedExec(memberQuery, newMember); err != nil {
		log.Printf("Error linking user to workspace: %v\n", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link user to workspace"})
		return
	}

	if _, err = grantPlanCredits(tx, newWorkspace.ID, newWorkspace.PlanID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant plan credits"})
		return
	}

	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit registration transaction"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "User registered successfully",
		"user_id":      newUser.ID,
		"email":        newUser.Email,
		"workspace_id": newWorkspace.ID,
	})
}

// personalWorkspaceSlug generates a unique default slug; users can rename it.
func personalWorkspaceSlug() string {
	return fmt.Sprintf("ws-%s", uuid.New().String()[:8])
}

func LoginUser(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	var user database.User
	query := `SELECT id, full_name, email, handle, hashed_password, created_at, updated_at FROM users WHERE email=$1`
	err := database.DB.Get(&user, query, strings.ToLower(strings.TrimSpace(req.Email)))

	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error: " + err.Error()})
		}
		return
	}

	if !utils.CheckPasswordHash(req.Password, user.HashedPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	tokenString, err := utils.GenerateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token: " + err.Error()})
		return
	}

	_, _ = database.DB.Exec(`UPDATE users SET last_login_at=NOW() WHERE id=$1`, user.ID)

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   tokenString,
		"user_id": user.ID,
	})
}
