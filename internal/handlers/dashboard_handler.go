package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"permit-management-api/internal/cache"
	"permit-management-api/internal/dashboard"
	"permit-management-api/internal/database"

	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the cached per-user dashboard aggregate.
type DashboardHandler struct {
	Cache *dashboard.Cache
}

// NewDashboardHandler wires the handler to the dashboard cache.
func NewDashboardHandler(c *dashboard.Cache) *DashboardHandler {
	return &DashboardHandler{Cache: c}
}

// getOptions reads the optional ttl query param (seconds) into cache options.
func getOptions(c *gin.Context) cache.GetOptions {
	opts := cache.GetOptions{}
	if ttlStr := c.Query("ttl"); ttlStr != "" {
		if seconds, err := strconv.Atoi(ttlStr); err == nil && seconds > 0 {
			opts.TTL = time.Duration(seconds) * time.Second
		}
	}
	return opts
}

// Get handles GET /api/dashboard/:userid
// Requesters may only read their own dashboard.
func (h *DashboardHandler) Get(c *gin.Context) {
	authUserID := c.GetString("user_id")
	if authUserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in token"})
		return
	}

	targetUserID := strings.TrimSpace(c.Param("userid"))
	if targetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userid is required"})
		return
	}
	role := c.GetString("role")
	if role == "requester" && targetUserID != authUserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You may only view your own dashboard"})
		return
	}

	agg, err := h.Cache.Get(targetUserID, database.GetDB(), getOptions(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build dashboard"})
		return
	}

	c.JSON(http.StatusOK, agg)
}

// Refresh handles POST /api/dashboard/:userid/refresh
// Drops the cached aggregate and rebuilds it immediately.
func (h *DashboardHandler) Refresh(c *gin.Context) {
	authUserID := c.GetString("user_id")
	if authUserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in token"})
		return
	}

	targetUserID := strings.TrimSpace(c.Param("userid"))
	if targetUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userid is required"})
		return
	}
	role := c.GetString("role")
	if role == "requester" && targetUserID != authUserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You may only refresh your own dashboard"})
		return
	}

	h.Cache.Invalidate(targetUserID)
	agg, err := h.Cache.Get(targetUserID, database.GetDB(), getOptions(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rebuild dashboard"})
		return
	}

	c.JSON(http.StatusOK, agg)
}

// ClearCache handles DELETE /api/dashboard/cache (admin only, gated at the
// route). Empties the whole aggregate cache, all users and all clients.
func (h *DashboardHandler) ClearCache(c *gin.Context) {
	h.Cache.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Dashboard cache cleared"})
}
