package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"outpatient-backend/internal/config"
	"outpatient-backend/internal/handlers"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/services"
	"outpatient-backend/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type envelope struct {
	Success bool              `json:"success"`
	Msg     string            `json:"msg"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validation.RegisterGin())

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := config.Open("sqlite", dsn, logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, config.Migrate(db))

	svc := services.New(db, nil, services.Options{JWTSecret: "routes-test-secret-0123456789abcdef"})
	_, err = svc.Auth.SeedMaster(context.Background(), "master", "master@hospital.test", "master123")
	require.NoError(t, err)

	r := gin.New()
	SetupRoutes(r, Deps{
		Handler: handlers.New(svc, sqlDB.PingContext),
		Auth:    svc.Auth,
	})
	return &server{t: t, router: r}
}

func (s *server) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (s *server) login(username, password string) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, code, env.Msg)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(s.t, data.Token)
	return data.Token
}

// staff creates an account through the master API and logs it in.
func (s *server) staff(master, username string, role models.Role) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/master/staff", master, gin.H{
		"username": username,
		"email":    username + "@hospital.test",
		"role":     role,
		"password": "secret123",
	})
	require.Equal(s.t, http.StatusCreated, code, env.Msg)
	return s.login(username, "secret123")
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out), string(env.Data))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{endpoint="/healthz"`)
}

func TestAuth_Envelope(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "master", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Msg)

	code, env = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "master"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Errors, "password")

	code, _ = s.do(http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	token := s.login("master", "master123")
	code, env = s.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	me := decode[models.User](t, env)
	assert.Equal(t, "master", me.Username)

	code, _ = s.do(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRoleGates(t *testing.T) {
	s := newServer(t)
	master := s.login("master", "master123")
	pharmacy := s.staff(master, "pharma", models.RolePharmacy)
	doctor := s.staff(master, "drmehta", models.RoleDoctor)

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		want   int
	}{
		{"pharmacy cannot read doctor queue", pharmacy, http.MethodGet, "/api/doctor/registered-ops", http.StatusForbidden},
		{"doctor cannot read pharmacy queue", doctor, http.MethodGet, "/api/pharmacy/queue", http.StatusForbidden},
		{"doctor cannot manage staff", doctor, http.MethodGet, "/api/master/staff", http.StatusForbidden},
		{"pharmacy reads medicine catalogue", pharmacy, http.MethodGet, "/api/office/medicines", http.StatusOK},
		{"pharmacy cannot read lab catalogue", pharmacy, http.MethodGet, "/api/office/lab-tests", http.StatusForbidden},
		{"doctor reads lab catalogue", doctor, http.MethodGet, "/api/office/lab-tests", http.StatusOK},
		{"doctor cannot read reports", doctor, http.MethodGet, "/api/office/reports/daily-visits", http.StatusForbidden},
		{"master passes every gate", master, http.MethodGet, "/api/lab/queue", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := s.do(tc.method, tc.path, tc.token, nil)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestVisitLifecycle_OverHTTP(t *testing.T) {
	s := newServer(t)
	master := s.login("master", "master123")
	op := s.staff(master, "opdesk", models.RoleOP)
	doctor := s.staff(master, "drmehta", models.RoleDoctor)
	lab := s.staff(master, "labtech", models.RoleLab)
	pharmacy := s.staff(master, "pharma", models.RolePharmacy)
	office := s.staff(master, "office", models.RoleOffice)

	// Office stocks the catalogues.
	code, env := s.do(http.MethodPost, "/api/office/add-medicine", office, gin.H{"name": "Paracetamol", "supplier_info": "Acme", "stock": 10})
	require.Equal(t, http.StatusCreated, code, env.Msg)
	stock := decode[services.StockResult](t, env)
	code, env = s.do(http.MethodPost, "/api/office/add-lab-test", office, gin.H{"name": "CBC"})
	require.Equal(t, http.StatusCreated, code, env.Msg)
	cbc := decode[models.LabTest](t, env)

	// OP desk registers the patient with a reason, which opens the visit.
	code, env = s.do(http.MethodPost, "/api/op/create-visit", op, gin.H{})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Errors, "op_number")

	code, env = s.do(http.MethodPost, "/api/op/register", op, gin.H{
		"name":             "Asha Rao",
		"aadhar":           "400000000001",
		"phone":            "9876543210",
		"gender":           "Female",
		"dob":              "1990-05-01",
		"reason_for_visit": "Fever",
	})
	require.Equal(t, http.StatusCreated, code, env.Msg)
	reg := decode[services.ApprovalResult](t, env)
	require.NotNil(t, reg.Visit)
	visitID := reg.Visit.ID

	code, env = s.do(http.MethodGet, "/api/doctor/registered-ops", doctor, nil)
	require.Equal(t, http.StatusOK, code)
	queue := decode[[]struct {
		Visit       models.Visit `json:"visit"`
		StatusLabel string       `json:"statusLabel"`
	}](t, env)
	require.Len(t, queue, 1)
	assert.Equal(t, "New Patient", queue[0].StatusLabel)

	// Consultation orders a lab test.
	path := fmt.Sprintf("/api/doctor/complete-consultation/%d", visitID)
	code, env = s.do(http.MethodPost, path, doctor, gin.H{
		"diagnosis":       "Suspected infection",
		"orderedLabTests": []gin.H{{"id": cbc.ID}},
	})
	require.Equal(t, http.StatusOK, code, env.Msg)

	// Replaying it is a conflict.
	code, env = s.do(http.MethodPost, path, doctor, gin.H{"diagnosis": "Again"})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	code, env = s.do(http.MethodGet, "/api/lab/queue", lab, nil)
	require.Equal(t, http.StatusOK, code)
	labQueue := decode[[]services.LabQueueItem](t, env)
	require.Len(t, labQueue, 1)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/lab/upload-report/%d", labQueue[0].ID), lab, gin.H{"report_url": "https://reports.hospital.test/cbc.pdf"})
	require.Equal(t, http.StatusOK, code, env.Msg)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/doctor/post-lab-review/%d", visitID), doctor, gin.H{
		"diagnosis":           "Viral fever",
		"prescribedMedicines": []gin.H{{"id": stock.Medicine.ID, "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, code, env.Msg)

	code, env = s.do(http.MethodGet, "/api/pharmacy/queue", pharmacy, nil)
	require.Equal(t, http.StatusOK, code)
	pq := decode[[]services.PharmacyQueueItem](t, env)
	require.Len(t, pq, 1)
	assert.True(t, pq[0].Dispensable)

	issue := fmt.Sprintf("/api/pharmacy/issue-medicines/%d", visitID)
	code, env = s.do(http.MethodPost, issue, pharmacy, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	res := decode[services.DispenseResult](t, env)
	assert.Equal(t, "COMPLETED", string(res.Status))

	code, _ = s.do(http.MethodPost, issue, pharmacy, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodGet, "/api/office/medicines", office, nil)
	require.Equal(t, http.StatusOK, code)
	meds := decode[[]models.Medicine](t, env)
	require.Len(t, meds, 1)
	assert.Equal(t, 6, meds[0].TotalStock)
}

func TestVisitIDMustBeNumeric(t *testing.T) {
	s := newServer(t)
	master := s.login("master", "master123")

	code, env := s.do(http.MethodPost, "/api/pharmacy/issue-medicines/abc", master, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Errors, "visitId")
}

func TestAddMedicine_AcceptsFormStringStock(t *testing.T) {
	s := newServer(t)
	master := s.login("master", "master123")
	office := s.staff(master, "office", models.RoleOffice)

	code, env := s.do(http.MethodPost, "/api/office/add-medicine", office, gin.H{"name": "Cetirizine", "stock": "20"})
	require.Equal(t, http.StatusCreated, code, env.Msg)
	res := decode[services.StockResult](t, env)
	assert.Equal(t, 20, res.Medicine.TotalStock)

	code, env = s.do(http.MethodPost, "/api/office/add-medicine", office, gin.H{"name": "Cetirizine", "stock": "0"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Errors, "stock")
}
