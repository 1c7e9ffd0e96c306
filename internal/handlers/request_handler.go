package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"permit-management-api/internal/dashboard"
	"permit-management-api/internal/database"
	"permit-management-api/internal/events"
	"permit-management-api/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RequestHandler serves the access-request CRUD endpoints. Mutations publish a
// RequestEvent on the bus and invalidate the requester's dashboard entry.
type RequestHandler struct {
	Bus        *events.Emitter[models.RequestEvent]
	Dashboards *dashboard.Cache
}

// NewRequestHandler wires the handler to the event bus and dashboard cache.
func NewRequestHandler(bus *events.Emitter[models.RequestEvent], dashboards *dashboard.Cache) *RequestHandler {
	return &RequestHandler{Bus: bus, Dashboards: dashboards}
}

// CreateRequestRequest represents the request payload for creating an access request
type CreateRequestRequest struct {
	Title         string            `json:"title" binding:"required"`
	Justification string            `json:"justification" binding:"required"`
	PermitType    models.PermitType `json:"permitType" binding:"required"`
	ValidFrom     string            `json:"validFrom" binding:"required"`
	ValidUntil    string            `json:"validUntil" binding:"required"`
}

// UpdateRequestRequest represents the request payload for updating an access request
type UpdateRequestRequest struct {
	Title         *string            `json:"title"`
	Justification *string            `json:"justification"`
	PermitType    *models.PermitType `json:"permitType"`
	ValidFrom     *string            `json:"validFrom"`
	ValidUntil    *string            `json:"validUntil"`
}

// DecideRequestRequest represents the approver's decision payload
type DecideRequestRequest struct {
	Status models.RequestStatus `json:"status" binding:"required"`
	Note   string               `json:"note"`
}

func parseDateFlexible(dateStr string) (time.Time, bool) {
	if dateStr == "" {
		return time.Time{}, false
	}
	layouts := []string{
		"2006-01-02",  // ISO date
		"2 Jan 2006",  // e.g., 30 Oct 2025
		time.RFC3339,  // full RFC3339
		"02 Jan 2006", // zero-padded day
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// calculateDurationDays derives the permit validity window length in days
// from the validity dates, with a minimum of 1 day.
func calculateDurationDays(validFromStr, validUntilStr string) int {
	from, okFrom := parseDateFlexible(validFromStr)
	until, okUntil := parseDateFlexible(validUntilStr)
	if !okFrom || !okUntil {
		// Fallback to minimum duration 1 when dates invalid/missing
		return 1
	}
	// Normalize to midnight to avoid partial-day rounding issues
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	until = time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, until.Location())
	if until.Before(from) {
		from, until = until, from
	}
	days := int(until.Sub(from).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

func validPermitType(t models.PermitType) bool {
	switch t {
	case models.PermitFacility, models.PermitSystem, models.PermitData:
		return true
	}
	return false
}

// publish emits a request event and drops the requester's cached dashboard so
// the next dashboard read rebuilds with fresh counts.
func (h *RequestHandler) publish(c *gin.Context, eventName, requestID, requesterID string) {
	h.Dashboards.Invalidate(requesterID)

	evt := models.RequestEvent{
		Type:      eventName,
		RequestID: requestID,
		UserID:    requesterID,
		Version:   1,
	}
	if err := h.Bus.Emit(c.Request.Context(), eventName, evt); err != nil {
		log.Printf("publish %s for request %s: %v", eventName, requestID, err)
	}
}

// enrichRequester fills the embedded Requester from the users table.
func enrichRequester(req *models.AccessRequest) {
	if req.RequesterID == "" {
		return
	}
	var u models.User
	if err := database.GetDB().Where("id = ?", req.RequesterID).First(&u).Error; err == nil {
		req.Requester = models.Requester{ID: u.ID, Name: u.Username}
	}
}

/*
*
List handles GET /api/requests
Requesters see only their own requests; approvers and admins see everything.
Query params: page (default 1), limit (default 5), sort (asc|desc on
created_at, default desc), status, requesterId (approver/admin only).
*/
func (h *RequestHandler) List(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}
	role := models.Role(c.GetString("role"))

	pageStr := c.DefaultQuery("page", "1")
	limitStr := c.DefaultQuery("limit", "5")
	sortParam := strings.ToLower(c.DefaultQuery("sort", "desc"))
	statusFilter := c.Query("status")
	filterRequesterID := c.Query("requesterId")

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = 5
	}
	if limit > 100 {
		limit = 100
	}

	offset := (page - 1) * limit

	order := "created_at desc"
	if sortParam == "asc" {
		order = "created_at asc"
	}

	db := database.GetDB()
	query := db.Model(&models.AccessRequest{})
	if role == models.RoleRequester {
		// Requesters never see other people's requests
		query = query.Where("requester_id = ?", userID)
	} else if filterRequesterID != "" {
		query = query.Where("requester_id = ?", filterRequesterID)
	}
	if statusFilter != "" {
		query = query.Where("status = ?", statusFilter)
	}

	// Total count (without pagination)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count requests",
		})
		return
	}

	// Fetch paginated requests with sorting
	var requests []models.AccessRequest
	result := query.Session(&gorm.Session{}).Order(order).Limit(limit).Offset(offset).Find(&requests)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch requests",
		})
		return
	}

	// Enrich requester field for response
	var users []models.User
	if err := database.GetDB().Find(&users).Error; err == nil {
		userByID := make(map[string]models.User, len(users))
		for _, u := range users {
			userByID[u.ID] = u
		}

		for i := range requests {
			if u, ok := userByID[requests[i].RequesterID]; ok {
				requests[i].Requester = models.Requester{
					ID:   u.ID,
					Name: u.Username,
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests), // number of items in this page
		"total":    total,         // total requests (all pages) for current filter
		"page":     page,
		"limit":    limit,
		"sort":     sortParam,
	})
}

/*
*
Create handles POST /api/requests
Creates a pending access request for the authenticated user
*/
func (h *RequestHandler) Create(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}

	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if !validPermitType(req.PermitType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid permitType"})
		return
	}

	// Compute validity duration from dates; requests always start pending
	duration := calculateDurationDays(req.ValidFrom, req.ValidUntil)

	// Generate request ID (simple format: req-{timestamp})
	requestID := fmt.Sprintf("req-%d", time.Now().UnixNano())

	request := models.AccessRequest{
		ID:            requestID,
		Title:         req.Title,
		Justification: req.Justification,
		Status:        models.StatusPending,
		PermitType:    req.PermitType,
		RequesterID:   userID,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		DurationDays:  duration,
	}

	result := database.GetDB().Create(&request)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create request",
		})
		return
	}

	enrichRequester(&request)
	h.publish(c, models.EventRequestCreated, request.ID, userID)

	c.JSON(http.StatusCreated, request)
}

// GetByID handles GET /api/requests/:id
// Requesters may only fetch their own requests.
func (h *RequestHandler) GetByID(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request ID is required"})
		return
	}

	var request models.AccessRequest
	result := database.GetDB().Where("id = ?", requestID).First(&request)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch request"})
		}
		return
	}

	role := models.Role(c.GetString("role"))
	if role == models.RoleRequester && request.RequesterID != userID {
		// Hide other users' requests from requesters
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}

	enrichRequester(&request)
	c.JSON(http.StatusOK, request)
}

// Update handles PUT /api/requests/:id
// Only the owner may update, and only while the request is still pending.
func (h *RequestHandler) Update(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Request ID is required",
		})
		return
	}

	// Check if request exists and belongs to user
	var existing models.AccessRequest
	result := database.GetDB().Where("id = ? AND requester_id = ?", requestID, userID).First(&existing)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Request not found",
			})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to fetch request",
			})
		}
		return
	}

	if existing.Status != models.StatusPending {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Only pending requests can be updated",
		})
		return
	}

	// Parse update request
	var req UpdateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// Update fields if provided
	if req.Title != nil {
		existing.Title = *req.Title
	}
	if req.Justification != nil {
		existing.Justification = *req.Justification
	}
	if req.PermitType != nil {
		if !validPermitType(*req.PermitType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid permitType"})
			return
		}
		existing.PermitType = *req.PermitType
	}
	if req.ValidFrom != nil {
		existing.ValidFrom = *req.ValidFrom
	}
	if req.ValidUntil != nil {
		existing.ValidUntil = *req.ValidUntil
	}
	// Recalculate duration if either date was provided; otherwise leave as-is
	if req.ValidFrom != nil || req.ValidUntil != nil {
		existing.DurationDays = calculateDurationDays(existing.ValidFrom, existing.ValidUntil)
	}

	result = database.GetDB().Save(&existing)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update request",
		})
		return
	}

	enrichRequester(&existing)
	h.publish(c, models.EventRequestUpdated, existing.ID, userID)

	c.JSON(http.StatusOK, existing)
}

// Decide handles PATCH /api/requests/:id/decision
// Approver/admin only (gated at the route). Pending requests may be approved
// or rejected; approved requests may be revoked.
func (h *RequestHandler) Decide(c *gin.Context) {
	approverID := c.GetString("user_id")
	if approverID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request ID is required"})
		return
	}

	var req DecideRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var request models.AccessRequest
	result := database.GetDB().Where("id = ?", requestID).First(&request)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch request"})
		}
		return
	}

	// Allowed transitions: pending -> approved/rejected, approved -> revoked
	switch req.Status {
	case models.StatusApproved, models.StatusRejected:
		if request.Status != models.StatusPending {
			c.JSON(http.StatusConflict, gin.H{"error": "Only pending requests can be approved or rejected"})
			return
		}
	case models.StatusRevoked:
		if request.Status != models.StatusApproved {
			c.JSON(http.StatusConflict, gin.H{"error": "Only approved requests can be revoked"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid decision status"})
		return
	}

	updates := map[string]any{
		"status":        req.Status,
		"approver_id":   approverID,
		"decision_note": req.Note,
	}
	if err := database.GetDB().Model(&request).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record decision"})
		return
	}
	request.Status = req.Status
	request.ApproverID = approverID
	request.DecisionNote = req.Note

	enrichRequester(&request)
	h.publish(c, models.EventRequestDecided, request.ID, request.RequesterID)

	c.JSON(http.StatusOK, request)
}

// Delete handles DELETE /api/requests/:id
// Owners may delete their own pending requests; admins may delete any.
func (h *RequestHandler) Delete(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User ID not found in token",
		})
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Request ID is required",
		})
		return
	}

	var request models.AccessRequest
	result := database.GetDB().Where("id = ?", requestID).First(&request)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Request not found",
			})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to fetch request",
			})
		}
		return
	}

	role := models.Role(c.GetString("role"))
	if role != models.RoleAdmin {
		if request.RequesterID != userID {
			c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
			return
		}
		if request.Status != models.StatusPending {
			c.JSON(http.StatusConflict, gin.H{"error": "Only pending requests can be deleted"})
			return
		}
	}

	result = database.GetDB().Delete(&request)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete request",
		})
		return
	}

	h.publish(c, models.EventRequestDeleted, requestID, request.RequesterID)

	c.JSON(http.StatusOK, gin.H{
		"message": "Request deleted successfully",
		"id":      requestID,
	})
}
