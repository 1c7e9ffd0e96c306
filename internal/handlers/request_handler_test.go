package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"permit-management-api/internal/auth"
	"permit-management-api/internal/cache"
	"permit-management-api/internal/dashboard"
	"permit-management-api/internal/database"
	"permit-management-api/internal/events"
	"permit-management-api/internal/middleware"
	"permit-management-api/internal/models"
	"permit-management-api/internal/realtime"
	"permit-management-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// recordingClient captures hub broadcasts for assertions.
type recordingClient struct {
	mu       sync.Mutex
	messages [][]byte
}

func (c *recordingClient) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return true
}

func (c *recordingClient) Close() {}

func (c *recordingClient) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

// newTestRouter wires a fresh DB, bus, hub and dashboard cache behind the
// request routes, mirroring the production wiring in routes.SetupRoutes.
func newTestRouter(t *testing.T) (*gin.Engine, *events.Emitter[models.RequestEvent], *dashboard.Cache, *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	bus := events.New[models.RequestEvent](events.Options{})
	hub := realtime.NewHub()
	require.NoError(t, realtime.Bind(bus, hub))
	dashboards := dashboard.NewCache(cache.Options{})
	h := NewRequestHandler(bus, dashboards)

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.JWTAuthMiddleware())
	api.GET("/requests", h.List)
	api.GET("/requests/:id", h.GetByID)
	api.POST("/requests", h.Create)
	api.PUT("/requests/:id", h.Update)
	api.PATCH("/requests/:id/decision",
		middleware.RequireRole(models.RoleApprover, models.RoleAdmin), h.Decide)
	api.DELETE("/requests/:id", h.Delete)
	return r, bus, dashboards, hub
}

func authedJSON(t *testing.T, r *gin.Engine, method, path string, payload any, userID string, role models.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	token, err := auth.GenerateToken(userID, "user-"+userID, role)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateRequest_Success(t *testing.T) {
	r, _, _, hub := newTestRouter(t)

	mine := &recordingClient{}
	hub.Register("u-1", mine)

	payload := map[string]any{
		"title":         "Server room entry",
		"justification": "Rack maintenance",
		"permitType":    "facility",
		"validFrom":     "2025-01-01",
		"validUntil":    "2025-01-03",
	}
	w := authedJSON(t, r, http.MethodPost, "/api/requests", payload, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, models.StatusPending, created.Status)
	require.Equal(t, 2, created.DurationDays) // 2025-01-01 to 2025-01-03 => 2 days

	// The mutation reached the requester's websocket clients through the bus.
	msgs := mine.received()
	require.Len(t, msgs, 1)
	var evt models.RequestEvent
	require.NoError(t, json.Unmarshal(msgs[0], &evt))
	require.Equal(t, models.EventRequestCreated, evt.Type)
	require.Equal(t, created.ID, evt.RequestID)
}

func TestCreateRequest_InvalidPermitType(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	payload := map[string]any{
		"title":         "Bad request",
		"justification": "x",
		"permitType":    "parking",
		"validFrom":     "2025-01-01",
		"validUntil":    "2025-01-02",
	}
	w := authedJSON(t, r, http.MethodPost, "/api/requests", payload, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList_RequesterSeesOnlyOwnRequests(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	seed := []models.AccessRequest{
		{ID: "r-1", Title: "A", PermitType: models.PermitSystem, Status: models.StatusPending, RequesterID: "u-1"},
		{ID: "r-2", Title: "B", PermitType: models.PermitSystem, Status: models.StatusPending, RequesterID: "u-2"},
	}
	for i := range seed {
		require.NoError(t, database.GetDB().Create(&seed[i]).Error)
	}

	w := authedJSON(t, r, http.MethodGet, "/api/requests", nil, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Requests []models.AccessRequest `json:"requests"`
		Total    int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Total)
	require.Equal(t, "r-1", resp.Requests[0].ID)

	// An approver sees everything.
	w = authedJSON(t, r, http.MethodGet, "/api/requests", nil, "u-3", models.RoleApprover)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp.Total)
}

func TestDecide_RoleGatingAndTransitions(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	req := models.AccessRequest{
		ID: "r-1", Title: "Prod DB read", PermitType: models.PermitData,
		Status: models.StatusPending, RequesterID: "u-1",
	}
	require.NoError(t, database.GetDB().Create(&req).Error)

	decision := map[string]any{"status": "approved", "note": "ok for a week"}

	// A requester may not decide.
	w := authedJSON(t, r, http.MethodPatch, "/api/requests/r-1/decision", decision, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusForbidden, w.Code)

	// An approver may.
	w = authedJSON(t, r, http.MethodPatch, "/api/requests/r-1/decision", decision, "u-9", models.RoleApprover)
	require.Equal(t, http.StatusOK, w.Code)
	var decided models.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decided))
	require.Equal(t, models.StatusApproved, decided.Status)
	require.Equal(t, "u-9", decided.ApproverID)
	require.Equal(t, "ok for a week", decided.DecisionNote)

	// Approving twice conflicts.
	w = authedJSON(t, r, http.MethodPatch, "/api/requests/r-1/decision", decision, "u-9", models.RoleApprover)
	require.Equal(t, http.StatusConflict, w.Code)

	// Approved requests can be revoked.
	w = authedJSON(t, r, http.MethodPatch, "/api/requests/r-1/decision",
		map[string]any{"status": "revoked", "note": "incident"}, "u-9", models.RoleApprover)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUpdate_OnlyPendingByOwner(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	seed := []models.AccessRequest{
		{ID: "r-1", Title: "Pending", PermitType: models.PermitSystem, Status: models.StatusPending, RequesterID: "u-1"},
		{ID: "r-2", Title: "Approved", PermitType: models.PermitSystem, Status: models.StatusApproved, RequesterID: "u-1"},
	}
	for i := range seed {
		require.NoError(t, database.GetDB().Create(&seed[i]).Error)
	}

	update := map[string]any{"title": "Renamed"}

	w := authedJSON(t, r, http.MethodPut, "/api/requests/r-1", update, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusOK, w.Code)

	// Decided requests are frozen.
	w = authedJSON(t, r, http.MethodPut, "/api/requests/r-2", update, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusConflict, w.Code)

	// Someone else's request looks like it does not exist.
	w = authedJSON(t, r, http.MethodPut, "/api/requests/r-1", update, "u-2", models.RoleRequester)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelete_InvalidatesDashboardCache(t *testing.T) {
	r, _, dashboards, _ := newTestRouter(t)

	req := models.AccessRequest{
		ID: "r-1", Title: "Lab entry", PermitType: models.PermitFacility,
		Status: models.StatusPending, RequesterID: "u-1",
	}
	require.NoError(t, database.GetDB().Create(&req).Error)

	// Warm the requester's dashboard entry.
	before, err := dashboards.Get("u-1", database.GetDB(), cache.GetOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, before.Total)

	w := authedJSON(t, r, http.MethodDelete, "/api/requests/r-1", nil, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusOK, w.Code)

	// The deletion dropped the cached aggregate, so this read rebuilds.
	after, err := dashboards.Get("u-1", database.GetDB(), cache.GetOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 0, after.Total)
}

func TestGetByID_RequesterScoping(t *testing.T) {
	r, _, _, _ := newTestRouter(t)

	req := models.AccessRequest{
		ID: "r-1", Title: "VPN", PermitType: models.PermitSystem,
		Status: models.StatusPending, RequesterID: "u-1",
	}
	require.NoError(t, database.GetDB().Create(&req).Error)

	w := authedJSON(t, r, http.MethodGet, "/api/requests/r-1", nil, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusOK, w.Code)

	w = authedJSON(t, r, http.MethodGet, "/api/requests/r-1", nil, "u-2", models.RoleRequester)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = authedJSON(t, r, http.MethodGet, "/api/requests/r-1", nil, "u-2", models.RoleApprover)
	require.Equal(t, http.StatusOK, w.Code)

	w = authedJSON(t, r, http.MethodGet, fmt.Sprintf("/api/requests/%s", "missing"), nil, "u-1", models.RoleRequester)
	require.Equal(t, http.StatusNotFound, w.Code)
}
