package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-service/pkg/circuit"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/middleware/requestid"
)

const maxResponseBytes = 1 << 20

var errCircuitOpen = errors.New("circuit open")

// Observer receives timing for every remote call, including short-circuited ones.
type Observer interface {
	ObserveRemoteCall(service, operation, outcome string, duration time.Duration)
}

// Options carries the shared dependencies of the remote clients.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	Observer   Observer
	// BreakerOptions are appended after the thresholds derived from config.
	BreakerOptions []circuit.Option
}

// envelope is the {code, message, data} contract shared by the campus services.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// remoteID accepts numeric or string identifiers.
type remoteID string

func (id *remoteID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = remoteID(n.String())
	return nil
}

func (id remoteID) degraded() bool {
	return string(id) == strconv.Itoa(DegradedID)
}

type response struct {
	status int
	body   envelope
}

type remote struct {
	name         string
	baseURL      string
	pathTemplate string
	timeout      time.Duration
	http         *http.Client
	breaker      *circuit.Breaker
	logger       *zap.Logger
	observer     Observer
}

func newRemote(name string, cfg config.RemoteServiceConfig, opts Options) *remote {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	breakerOpts := []circuit.Option{
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.SuccessThreshold),
		circuit.WithCooldown(cfg.Cooldown),
	}
	breakerOpts = append(breakerOpts, opts.BreakerOptions...)

	return &remote{
		name:         name,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		pathTemplate: cfg.PathTemplate,
		timeout:      timeout,
		http:         httpClient,
		breaker:      circuit.New(name, breakerOpts...),
		logger:       logger.With(zap.String("remote", name)),
		observer:     opts.Observer,
	}
}

func (r *remote) resourceURL(id string, suffix string, query url.Values) string {
	u := r.baseURL + fmt.Sprintf(r.pathTemplate, url.PathEscape(id)) + suffix
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call performs one guarded request. A nil error means the remote answered
// with a status below 500; any error means the caller must degrade.
func (r *remote) call(ctx context.Context, operation, method, target string) (*response, error) {
	start := time.Now()
	if !r.breaker.Allow() {
		r.observe(operation, "short_circuit", start)
		return nil, errCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, target, nil)
	if err != nil {
		r.breaker.Abandon()
		return nil, fmt.Errorf("build %s request: %w", r.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqID := requestid.FromContext(ctx); reqID != "" {
		req.Header.Set(requestid.Header, reqID)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			r.breaker.Abandon()
			r.observe(operation, "cancelled", start)
			return nil, ctx.Err()
		}
		r.recordFailure(operation, err)
		r.observe(operation, "error", start)
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		err := fmt.Errorf("%s %s: status %d", method, target, resp.StatusCode)
		r.recordFailure(operation, err)
		r.observe(operation, "server_error", start)
		return nil, err
	}

	out := &response{status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		r.recordFailure(operation, err)
		r.observe(operation, "error", start)
		return nil, fmt.Errorf("read %s response: %w", r.name, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.body); err != nil && resp.StatusCode < 300 {
			r.recordFailure(operation, err)
			r.observe(operation, "decode_error", start)
			return nil, fmt.Errorf("decode %s response: %w", r.name, err)
		}
	}

	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.Info("circuit closed", zap.String("operation", operation))
	}
	r.observe(operation, strconv.Itoa(resp.StatusCode), start)
	return out, nil
}

func (r *remote) recordFailure(operation string, err error) {
	_, change := r.breaker.RecordFailure()
	if change.Opened {
		r.logger.Warn("circuit opened", zap.String("operation", operation), zap.Error(err))
		return
	}
	r.logger.Debug("remote call failed", zap.String("operation", operation), zap.Error(err))
}

func (r *remote) observe(operation, outcome string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveRemoteCall(r.name, operation, outcome, time.Since(start))
	}
}

// Status returns the breaker snapshot.
func (r *remote) Status() circuit.Snapshot {
	return r.breaker.Snapshot()
}
