// Package boundary composes body decryption and identity resolution into the request
// entry point that every routed handler sits behind.
//
// Per request:
//
//	RECEIVED -> BODY_DECRYPTED -> IDENTITY_RESOLVED -> DISPATCHED
//	RECEIVED -> REJECTED            (decoding or decryption failure)
//	BODY_DECRYPTED -> REJECTED      (credential failure)
//	BODY_DECRYPTED -> DISPATCHED    (public path, no identity resolved)
//
// Nothing is shared between requests except the cipher and the resolver, both read-only.
package boundary

import (
	"context"
	"net/http"
	"time"

	"github.com/footprint-labs/footprint/internal/app/metrics"
	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/logging"
	"github.com/footprint-labs/footprint/internal/middleware"
)

// State is the position of one request in the boundary.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateBodyDecrypted    State = "BODY_DECRYPTED"
	StateIdentityResolved State = "IDENTITY_RESOLVED"
	StateDispatched       State = "DISPATCHED"
	StateRejected         State = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDispatched || s == StateRejected
}

// Outcome is the terminal result of one request.
type Outcome struct {
	State State
	// From is the last non-terminal state reached.
	From State
	Code errors.ErrorCode
}

// Recorder observes every terminal outcome.
type Recorder func(r *http.Request, o Outcome)

// MetricsRecorder counts outcomes in the Prometheus boundary counter.
func MetricsRecorder(_ *http.Request, o Outcome) {
	metrics.RecordBoundary(string(o.State), string(o.Code))
}

// Config wires the boundary. Cipher and Resolver are loaded once at startup.
type Config struct {
	Cipher           middleware.Cipher
	Resolver         *middleware.Resolver
	Logger           *logging.Logger
	MaxBodyBytes     int64
	DecryptMethods   []string
	DecryptSkipPaths []string
	AuthSkipPaths    []string
	// Recorder defaults to the Prometheus boundary counter.
	Recorder Recorder
}

// Boundary is the decrypt-then-authenticate request entry point.
type Boundary struct {
	decrypt  *middleware.DecryptMiddleware
	auth     *middleware.AuthMiddleware
	logger   *logging.Logger
	recorder Recorder
}

// New builds the boundary from cfg.
func New(cfg Config) *Boundary {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = MetricsRecorder
	}

	decrypt := middleware.NewDecryptMiddleware(middleware.DecryptConfig{
		Cipher:       cfg.Cipher,
		Logger:       cfg.Logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Methods:      cfg.DecryptMethods,
		SkipPaths:    cfg.DecryptSkipPaths,
		OnReject:     reject,
		OnDecrypt:    metrics.RecordDecrypt,
	})
	auth := middleware.NewAuthMiddleware(cfg.Resolver, cfg.Logger, cfg.AuthSkipPaths).WithRejectHook(reject)

	return &Boundary{
		decrypt:  decrypt,
		auth:     auth,
		logger:   cfg.Logger,
		recorder: recorder,
	}
}

// Handler wraps next so that it only ever sees decrypted bodies and resolved callers.
func (b *Boundary) Handler(next http.Handler) http.Handler {
	dispatch := advance(StateDispatched, next)
	chain := b.decrypt.Handler(advance(StateBodyDecrypted, b.auth.Handler(identityResolved(dispatch))))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := &tracker{state: StateReceived}
		start := time.Now()

		chain.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), trackerKey{}, tr)))

		outcome := tr.outcome()
		b.recorder(r, outcome)
		if b.logger != nil {
			b.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
				"state":    outcome.State,
				"from":     outcome.From,
				"code":     outcome.Code,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("Boundary outcome")
		}
	})
}

// StateFromContext returns the boundary state of the request owning ctx.
func StateFromContext(ctx context.Context) (State, bool) {
	tr, ok := ctx.Value(trackerKey{}).(*tracker)
	if !ok {
		return "", false
	}
	return tr.state, true
}

type trackerKey struct{}

// tracker is owned by one request; the handler chain runs on a single goroutine.
type tracker struct {
	state State
	last  State
	code  errors.ErrorCode
}

func (t *tracker) advance(to State) {
	if t.state.Terminal() {
		return
	}
	t.last = t.state
	t.state = to
}

func (t *tracker) reject(code errors.ErrorCode) {
	if t.state.Terminal() {
		return
	}
	t.last = t.state
	t.state = StateRejected
	t.code = code
}

func (t *tracker) outcome() Outcome {
	if !t.state.Terminal() {
		// The chain returned without dispatching or rejecting.
		t.reject(errors.CodeInternal)
	}
	return Outcome{State: t.state, From: t.last, Code: t.code}
}

func advance(to State, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tr, ok := r.Context().Value(trackerKey{}).(*tracker); ok {
			tr.advance(to)
		}
		next.ServeHTTP(w, r)
	})
}

// identityResolved advances only when the auth middleware put an identity in the context;
// skipped paths go from BODY_DECRYPTED straight to dispatch.
func identityResolved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.IdentityFromContext(r.Context()); ok {
			if tr, ok := r.Context().Value(trackerKey{}).(*tracker); ok {
				tr.advance(StateIdentityResolved)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func reject(r *http.Request, err *errors.ServiceError) {
	if tr, ok := r.Context().Value(trackerKey{}).(*tracker); ok {
		tr.reject(err.Code)
	}
}
