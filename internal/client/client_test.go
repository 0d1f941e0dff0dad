package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/circuit"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/middleware/requestid"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRemoteCall(service, operation, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, service+"/"+operation+"/"+outcome)
}

func remoteConfig(url string) config.RemoteServiceConfig {
	return config.RemoteServiceConfig{
		BaseURL:          url,
		Timeout:          200 * time.Millisecond,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	}
}

func TestCatalogGetCourse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/CS101", r.URL.Path)
		assert.Equal(t, "req-42", r.Header.Get("X-Request-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"id":7,"code":"CS101","title":"Intro","capacity":30,"enrolled":12}}`))
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	c := NewCatalogClient(remoteConfig(srv.URL), Options{Observer: observer})
	ctx := requestid.WithContext(context.Background(), "req-42")

	res := c.GetCourse(ctx, "CS101")

	require.True(t, res.OK())
	assert.Equal(t, models.CourseID("CS101"), res.Value.CourseID)
	assert.Equal(t, 30, res.Value.Capacity)
	assert.Equal(t, 12, res.Value.Enrolled)
	assert.Nil(t, res.Degraded)
	assert.Equal(t, []string{"catalog/get_course/200"}, observer.outcomes)
}

func TestCatalogGetCourseNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/courses/GONE":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":404,"message":"Course not found","data":null}`))
		default:
			_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":null}`))
		}
	}))
	defer srv.Close()

	c := NewCatalogClient(remoteConfig(srv.URL), Options{})

	assert.Equal(t, OutcomeNotFound, c.GetCourse(context.Background(), "GONE").Outcome)
	assert.Equal(t, OutcomeNotFound, c.GetCourse(context.Background(), "EMPTY").Outcome)
	assert.Equal(t, circuit.StateClosed.String(), c.Status().State)
}

func TestCatalogDegradesAndOpensCircuit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	observer := &recordingObserver{}
	c := NewCatalogClient(remoteConfig(srv.URL), Options{Observer: observer})

	for i := 0; i < 2; i++ {
		res := c.GetCourse(context.Background(), "CS101")
		require.Equal(t, OutcomeUnavailable, res.Outcome)
		require.NotNil(t, res.Degraded)
		assert.Equal(t, DegradedID, res.Degraded.ID)
		assert.Equal(t, models.CourseID("-1"), res.Value.CourseID)
	}
	assert.Equal(t, circuit.StateOpen.String(), c.Status().State)

	res := c.GetCourse(context.Background(), "CS101")
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the network")
	assert.Equal(t, "catalog/get_course/short_circuit", observer.outcomes[2])
	assert.Equal(t, "OPEN", c.Status().State)
}

func TestCatalogTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := remoteConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	c := NewCatalogClient(cfg, Options{})

	res := c.GetCourse(context.Background(), "CS101")
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Error(t, res.Err)
}

func TestCatalogFallbackPayloadIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":503,"message":"Course service unavailable","data":{"id":-1,"capacity":0,"enrolled":0}}`))
	}))
	defer srv.Close()

	c := NewCatalogClient(remoteConfig(srv.URL), Options{})
	res := c.GetCourse(context.Background(), "CS101")
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
}

func TestCatalogSetEnrolled(t *testing.T) {
	var gotCount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		switch r.URL.Path {
		case "/courses/CS101/enrolled":
			gotCount = r.URL.Query().Get("count")
			_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":null}`))
		case "/courses/FULL/enrolled":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":400,"message":"count exceeds capacity","data":null}`))
		case "/courses/DOWN/enrolled":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := remoteConfig(srv.URL)
	cfg.FailureThreshold = 10
	c := NewCatalogClient(cfg, Options{})

	res := c.SetEnrolled(context.Background(), "CS101", 3)
	assert.Equal(t, WriteOK, res.Outcome)
	assert.Equal(t, "3", gotCount)

	res = c.SetEnrolled(context.Background(), "FULL", 99)
	assert.Equal(t, WriteRejected, res.Outcome)
	assert.False(t, res.Retryable())

	res = c.SetEnrolled(context.Background(), "GONE", 1)
	assert.Equal(t, WriteNotFound, res.Outcome)

	res = c.SetEnrolled(context.Background(), "DOWN", 1)
	assert.Equal(t, WriteUnavailable, res.Outcome)
	assert.True(t, res.Retryable())
}

func TestIdentityGetUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/students/alice":
			_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"id":"alice","username":"alice","name":"Alice","role":"STUDENT"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":404,"message":"User not found","data":null}`))
		}
	}))
	defer srv.Close()

	cfg := remoteConfig(srv.URL)
	cfg.PathTemplate = "/users/students/%s"
	c := NewIdentityClient(cfg, Options{})

	res := c.GetUser(context.Background(), "alice")
	require.True(t, res.OK())
	assert.Equal(t, models.RoleStudent, res.Value.Role)
	assert.Equal(t, "Alice", res.Value.Name)

	assert.Equal(t, OutcomeNotFound, c.GetUser(context.Background(), "nobody").Outcome)
}

func TestIdentityUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewIdentityClient(remoteConfig(url), Options{})
	res := c.GetUser(context.Background(), "alice")

	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Equal(t, models.UserID("-1"), res.Value.ID)
	assert.Equal(t, "identity", res.Degraded.Service)
}

func TestCancelledCallerDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := remoteConfig(srv.URL)
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Second
	c := NewIdentityClient(cfg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := c.GetUser(ctx, "alice")

	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Equal(t, circuit.StateClosed.String(), c.Status().State)
}
