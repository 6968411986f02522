package opclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/realtime"
	"outpatient-backend/internal/visitflow"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers like the real server for a single account.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	authed := func(c *gin.Context) bool {
		if c.GetHeader("Authorization") != "Bearer good-token" {
			utils.APIError(c, apperr.Unauthorized("Session has been logged out"))
			return false
		}
		return true
	}

	r.POST("/api/auth/login", func(c *gin.Context) {
		var in struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = c.ShouldBindJSON(&in)
		if in.Password != "secret123" {
			utils.APIError(c, apperr.Unauthorized("Invalid username or password"))
			return
		}
		utils.APIResponse(c, http.StatusOK, true, "Login successful", gin.H{
			"token":      "good-token",
			"expires_at": time.Now().Add(time.Hour),
			"user":       gin.H{"id": 7, "username": in.Username, "email": "drmehta@hospital.test", "role": "Doctor"},
		})
	})
	r.GET("/api/auth/me", func(c *gin.Context) {
		if authed(c) {
			utils.APIResponse(c, http.StatusOK, true, "Profile", gin.H{"id": 7, "username": "drmehta", "role": "Doctor"})
		}
	})
	r.POST("/api/auth/logout", func(c *gin.Context) {
		utils.APIError(c, errors.New("database down"))
	})
	r.POST("/api/pharmacy/issue-medicines/:visitId", func(c *gin.Context) {
		if authed(c) {
			utils.APIError(c, apperr.Conflict("Cannot dispense: insufficient stock for Amoxicillin", nil))
		}
	})
	r.POST("/api/op/create-visit", func(c *gin.Context) {
		if authed(c) {
			utils.APIError(c, apperr.Validation("Please correct the highlighted fields", map[string]string{"op_number": "is required"}))
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestFileStore_HydrateAndExpiry(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "session.json")}

	s := NewSession(store)
	require.NoError(t, s.Hydrate())
	assert.Nil(t, s.Current())

	require.NoError(t, s.set(&SessionState{Token: "abc", ExpiresAt: time.Now().Add(time.Hour), User: Profile{Username: "opdesk", Role: "OP"}}))

	restored := NewSession(store)
	require.NoError(t, restored.Hydrate())
	require.NotNil(t, restored.Current())
	assert.Equal(t, "opdesk", restored.Current().User.Username)

	// A later run finds the token expired and drops it.
	later := NewSession(store)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, later.Hydrate())
	assert.Nil(t, later.Current())
	state, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestClient_LoginPersistsSession(t *testing.T) {
	srv := fakeAPI(t)
	store := &MemoryStore{}
	c := New(srv.URL, NewSession(store), nil)

	_, err := c.Login(context.Background(), "drmehta", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperr.KindUnauthorized, apiErr.Kind)
	assert.Nil(t, c.Session().Current())

	state, err := c.Login(context.Background(), "drmehta", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "good-token", state.Token)
	assert.Equal(t, "Doctor", string(state.User.Role))

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "good-token", stored.Token)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "drmehta", me.Username)
}

func TestClient_UnauthorizedClearsSession(t *testing.T) {
	srv := fakeAPI(t)
	store := &MemoryStore{}
	require.NoError(t, store.Save(&SessionState{Token: "revoked-token"}))
	s := NewSession(store)
	require.NoError(t, s.Hydrate())
	c := New(srv.URL, s, nil)

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Nil(t, c.Session().Current())
	stored, _ := store.Load()
	assert.Nil(t, stored)

	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	srv := fakeAPI(t)
	c := New(srv.URL, nil, nil)
	_, err := c.Login(context.Background(), "drmehta", "secret123")
	require.NoError(t, err)

	_, err = c.IssueMedicines(context.Background(), 9)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, apperr.KindConflict, apiErr.Kind)
	assert.Contains(t, apiErr.Error(), "Amoxicillin")

	_, err = c.CreateVisit(context.Background(), models.CreateVisitInput{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperr.KindValidation, apiErr.Kind)
	assert.Equal(t, "is required", apiErr.Fields["op_number"])

	// Business failures keep the session.
	assert.NotNil(t, c.Session().Current())

	// Network failures are neither API errors nor session errors.
	dead := New("http://127.0.0.1:1", c.Session(), nil)
	_, err = dead.Me(context.Background())
	require.Error(t, err)
	assert.False(t, errors.As(err, &apiErr))
	assert.NotNil(t, c.Session().Current())
}

func TestClient_LogoutAlwaysClears(t *testing.T) {
	srv := fakeAPI(t)
	c := New(srv.URL, nil, nil)
	_, err := c.Login(context.Background(), "drmehta", "secret123")
	require.NoError(t, err)

	err = c.Logout(context.Background())
	assert.Error(t, err)
	assert.Nil(t, c.Session().Current())
	assert.NoError(t, c.Logout(context.Background()))
}

func TestQueueWatcher_KeepsStaleSnapshot(t *testing.T) {
	fail := false
	w := NewQueueWatcher(visitflow.TopicLabQueue, func(context.Context) ([]int, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return []int{1, 2}, nil
	})

	_, loaded := w.Snapshot()
	assert.False(t, loaded)

	require.NoError(t, w.Refresh(context.Background()))
	fail = true
	assert.Error(t, w.Refresh(context.Background()))

	data, loaded := w.Snapshot()
	assert.True(t, loaded)
	assert.Equal(t, []int{1, 2}, data)
	assert.Error(t, w.Err())
}

func TestQueueWatcher_RefetchesOnOwnTopic(t *testing.T) {
	var fetches atomic.Int32
	w := NewQueueWatcher(visitflow.TopicPharmacyQueue, func(context.Context) (int32, error) {
		return fetches.Add(1), nil
	})

	events := make(chan visitflow.Topic)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), events) }()

	events <- visitflow.TopicLabQueue
	events <- visitflow.TopicPharmacyQueue
	close(events)

	require.NoError(t, <-done)
	assert.Equal(t, int32(2), fetches.Load())
	data, _ := w.Snapshot()
	assert.Equal(t, int32(2), data)
}

func TestQueueWatcher_StopsOnUnauthorized(t *testing.T) {
	w := NewQueueWatcher(visitflow.TopicDoctorQueue, func(context.Context) (int, error) {
		return 0, &APIError{Status: http.StatusUnauthorized}
	})
	err := w.Run(context.Background(), make(chan visitflow.Topic))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type tokenAuth struct{}

func (tokenAuth) Authenticate(_ context.Context, token string) (*utils.Claims, error) {
	if token != "good-token" {
		return nil, apperr.Unauthorized("Session has been logged out")
	}
	return &utils.Claims{UserID: 7, Username: "drmehta", Role: "Doctor"}, nil
}

func TestClient_EventsStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub()
	r := gin.New()
	r.GET("/ws", realtime.NewWebSocketHandler(hub, tokenAuth{}, nil).Connect)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rejected := NewSession(nil)
	require.NoError(t, rejected.set(&SessionState{Token: "revoked-token"}))
	_, err := New(srv.URL, rejected, nil).Events(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, rejected.Current())

	s := NewSession(nil)
	require.NoError(t, s.set(&SessionState{Token: "good-token"}))
	events, err := New(srv.URL, s, nil).Events(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Notify(ctx, visitflow.TopicDoctorQueue)
	select {
	case topic := <-events:
		assert.Equal(t, visitflow.TopicDoctorQueue, topic)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	for range events {
	}
}

func TestClient_EventsReleasesClosedStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	s := NewSession(nil)
	require.NoError(t, s.set(&SessionState{Token: "good-token"}))
	c := New(srv.URL, s, nil)

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		events, err := c.Events(context.Background())
		require.NoError(t, err)
		for range events {
		}
	}

	// Server-side connection goroutines wind down asynchronously.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond)
}
