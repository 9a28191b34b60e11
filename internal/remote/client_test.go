package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"secsync/internal/config"
	"secsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

type fakeSecretariat struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (f *fakeSecretariat) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)})
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func (f *fakeSecretariat) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testConfig(baseURL string) config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL:    baseURL + "/",
		HealthPath: "/api/health",
		APIKey:     "branch-key",
		Endpoints: map[string]string{
			"member":  "/api/members",
			"event":   "/api/events",
			"meeting": "/api/meetings",
		},
	}
}

func TestSendRoutesByTargetAndOperation(t *testing.T) {
	remote := &fakeSecretariat{}
	ts := httptest.NewServer(remote.handler())
	defer ts.Close()

	client := NewClient(testConfig(ts.URL))
	ctx := context.Background()

	tests := []struct {
		name       string
		item       models.SyncItem
		wantMethod string
		wantPath   string
	}{
		{
			name:       "create member",
			item:       models.SyncItem{ID: "q1", Operation: models.OperationCreate, TargetType: models.TargetMember, Payload: json.RawMessage(`{"name":"Elif"}`)},
			wantMethod: http.MethodPost,
			wantPath:   "/api/members",
		},
		{
			name:       "update event",
			item:       models.SyncItem{ID: "q2", Operation: models.OperationUpdate, TargetType: models.TargetEvent, Payload: json.RawMessage(`{"id":"ev 9","title":"Rally"}`)},
			wantMethod: http.MethodPut,
			wantPath:   "/api/events/ev 9",
		},
		{
			name:       "update meeting numeric id",
			item:       models.SyncItem{ID: "q3", Operation: models.OperationUpdate, TargetType: models.TargetMeeting, Payload: json.RawMessage(`{"id":12}`)},
			wantMethod: http.MethodPut,
			wantPath:   "/api/meetings/12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, client.Send(ctx, &tt.item))
			got := remote.last(t)
			assert.Equal(t, tt.wantMethod, got.Method)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
			assert.Equal(t, tt.item.ID, got.Header.Get("X-Idempotency-Key"))
			assert.Equal(t, "branch-key", got.Header.Get("x-api-key"))
			assert.JSONEq(t, string(tt.item.Payload), got.Body)
		})
	}
}

func TestSendMalformed(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	ctx := context.Background()

	err := client.Send(ctx, &models.SyncItem{Operation: models.OperationUpdate, TargetType: models.TargetMember, Payload: json.RawMessage(`{"name":"no id"}`)})
	assert.ErrorIs(t, err, ErrMalformedItem)

	err = client.Send(ctx, &models.SyncItem{Operation: models.OperationCreate, TargetType: "village", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrMalformedItem)
}

func TestSendStatusErrors(t *testing.T) {
	remote := &fakeSecretariat{status: http.StatusUnprocessableEntity}
	ts := httptest.NewServer(remote.handler())
	defer ts.Close()

	client := NewClient(testConfig(ts.URL))
	item := &models.SyncItem{ID: "q", Operation: models.OperationCreate, TargetType: models.TargetMember, Payload: json.RawMessage(`{}`)}

	err := client.Send(context.Background(), item)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Error(), "422")
	assert.True(t, IsClientError(err))

	remote.mu.Lock()
	remote.status = http.StatusBadGateway
	remote.mu.Unlock()
	err = client.Send(context.Background(), item)
	require.Error(t, err)
	assert.False(t, IsClientError(err))
}

func TestSendTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client := NewClient(testConfig(url))
	err := client.Send(context.Background(), &models.SyncItem{ID: "q", Operation: models.OperationCreate, TargetType: models.TargetEvent, Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.False(t, IsClientError(err))
}

func TestPing(t *testing.T) {
	remote := &fakeSecretariat{}
	ts := httptest.NewServer(remote.handler())
	defer ts.Close()

	client := NewClient(testConfig(ts.URL))
	require.NoError(t, client.Ping(context.Background()))
	got := remote.last(t)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/api/health", got.Path)
}

func TestOAuthBearerToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	remote := &fakeSecretariat{}
	ts := httptest.NewServer(remote.handler())
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.OAuth = config.OAuthConfig{TokenURL: tokenServer.URL, ClientID: "branch", ClientSecret: "s3cret"}
	client := NewClient(cfg)

	require.NoError(t, client.Ping(context.Background()))
	assert.Equal(t, "Bearer tok-123", remote.last(t).Header.Get("Authorization"))
}

func TestRateLimitHonorsContext(t *testing.T) {
	remote := &fakeSecretariat{}
	ts := httptest.NewServer(remote.handler())
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	client := NewClient(cfg)
	item := &models.SyncItem{ID: "q", Operation: models.OperationCreate, TargetType: models.TargetMember, Payload: json.RawMessage(`{}`)}

	require.NoError(t, client.Send(context.Background(), item))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Send(ctx, item)
	assert.Error(t, err)
}
