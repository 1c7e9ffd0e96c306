package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"permit-management-api/internal/database"
	"permit-management-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	r := gin.New()
	r.POST("/api/register", Register)
	r.POST("/api/login", Login)

	w := postJSON(t, r, "/api/register", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, r, "/api/login", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, "alice", resp.Username)
}

func TestLogin_WrongPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	r := gin.New()
	r.POST("/api/register", Register)
	r.POST("/api/login", Login)

	w := postJSON(t, r, "/api/register", map[string]string{
		"username": "bob",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, r, "/api/login", map[string]string{
		"username": "bob",
		"password": "battery-staple",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	database.DB = db

	r := gin.New()
	r.POST("/api/register", Register)

	w := postJSON(t, r, "/api/register", map[string]string{
		"username": "carol",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(t, r, "/api/register", map[string]string{
		"username": "carol",
		"password": "other-password",
	})
	require.Equal(t, http.StatusConflict, w.Code)
}
