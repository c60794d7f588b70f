package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

type MeResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Handle    *string   `json:"handle,omitempty"`
	HasAvatar bool      `json:"has_avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetMe returns the current authenticated user's basic profile
func GetMe(c *gin.Context) {
	uid, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var row struct {
		ID        string    `db:"id"`
		FullName  string    `db:"full_name"`
		Email     string    `db:"email"`
		Handle    *string   `db:"handle"`
		HasAvatar bool      `db:"has_avatar"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := database.DB.Get(&row, `SELECT id, full_name, email, handle, avatar IS NOT NULL AS has_avatar, created_at, updated_at FROM users WHERE id=$1`, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, MeResponse{
		ID:        row.ID,
		FullName:  row.FullName,
		Email:     row.Email,
		Handle:    row.Handle,
		HasAvatar: row.HasAvatar,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	})
}

type UpdateMeRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Handle   *string `json:"handle,omitempty"`
}

// UpdateMe updates profile attributes: full_name and handle.
func UpdateMe(c *gin.Context) {
	uid, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.FullName == nil && req.Handle == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "full_name must not be empty"})
		return
	}
	if req.Handle != nil {
		if ok, why := ValidateHandle(*req.Handle); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": why})
			return
		}
	}
	if req.FullName != nil {
		if _, err := database.DB.Exec(`UPDATE users SET full_name=$1, updated_at=NOW() WHERE id=$2`, *req.FullName, uid); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
			return
		}
	}
	if req.Handle != nil {
		if _, err := database.DB.Exec(`UPDATE users SET handle=$1, updated_at=NOW() WHERE id=$2`, *req.Handle, uid); err != nil {
			if strings.Contains(err.Error(), "unique constraint") {
				c.JSON(http.StatusConflict, gin.H{"error": "Handle already taken"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update handle"})
			return
		}
	}
	GetMe(c)
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UpdatePassword changes the current user's password after verifying current password
func UpdatePassword(c *gin.Context) {
	uid, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if ok, why := utils.ValidatePasswordPolicy(req.NewPassword); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": why})
		return
	}
	var storedHash string
	err := database.DB.Get(&storedHash, `SELECT hashed_password FROM users WHERE id=$1`, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user"})
		return
	}
	if !utils.CheckPasswordHash(req.CurrentPassword, storedHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	}
	newHash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	_, err = database.DB.Exec(`UPDATE users SET hashed_password=$1, updated_at=NOW() WHERE id=$2`, newHash, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

type UpdateAvatarRequest struct {
	// Data URL: data:image/png;base64,....
	Avatar string `json:"avatar" binding:"required"`
}

// UpdateAvatar accepts a base64 data URL, validates it, and stores the
// decoded image.
func UpdateAvatar(c *gin.Context) {
	uid, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req UpdateAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	mime, data, err := DecodeAvatarDataURL(req.Avatar)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := database.DB.Exec(`UPDATE users SET avatar=$1, avatar_mime=$2, updated_at=NOW() WHERE id=$3`, data, mime, uid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store avatar"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Avatar updated", "mime": mime, "bytes": len(data)})
}

// GetAvatar serves the stored avatar with its original content type.
func GetAvatar(c *gin.Context) {
	uid, ok := c.Get("userID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var row struct {
		Avatar     []byte  `db:"avatar"`
		AvatarMIME *string `db:"avatar_mime"`
	}
	err := database.DB.Get(&row, `SELECT avatar, avatar_mime FROM users WHERE id=$1`, uid)
	if err != nil || len(row.Avatar) == 0 || row.AvatarMIME == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No avatar set"})
		return
	}
	c.Data(http.StatusOK, *row.AvatarMIME, row.Avatar)
}
