// Package httpapi exposes the footprint REST API behind the request boundary.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/domain/walk"
	"github.com/footprint-labs/footprint/internal/app/metrics"
	"github.com/footprint-labs/footprint/internal/app/services/accounts"
	"github.com/footprint-labs/footprint/internal/app/services/walks"
	"github.com/footprint-labs/footprint/internal/boundary"
	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/httputil"
	"github.com/footprint-labs/footprint/internal/logging"
	"github.com/footprint-labs/footprint/internal/middleware"
)

// Services are the application services the handlers call into.
type Services struct {
	Accounts *accounts.Service
	Walks    *walks.Service
}

// Config wires the router.
type Config struct {
	Boundary       boundary.Config
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Audit          *AuditLog
	Logger         *logging.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	svc Services
	log *logging.Logger
}

// NewHandler returns the router. Every matched route runs behind the boundary, so handlers only
// ever see decrypted bodies and, outside the public paths, a resolved caller.
func NewHandler(svc Services, cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.New("httpapi", "info", "json")
	}
	h := &handler{svc: svc, log: log}

	if cfg.Boundary.Logger == nil {
		cfg.Boundary.Logger = log
	}
	if cfg.Boundary.Recorder == nil {
		cfg.Boundary.Recorder = recorder(cfg.Audit)
	}
	b := boundary.New(cfg.Boundary)

	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware(), b.Handler)
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Handler)
	}

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/users/auth/login", h.login).Methods(http.MethodPost)
	router.HandleFunc("/users/me", h.me).Methods(http.MethodGet)
	router.HandleFunc("/users/autologin", h.autoLogin).Methods(http.MethodGet)
	router.HandleFunc("/users/me/nickname", h.updateNickname).Methods(http.MethodPatch)

	router.HandleFunc("/walks", h.recordWalk).Methods(http.MethodPost)
	router.HandleFunc("/walks", h.listWalks).Methods(http.MethodGet)
	router.HandleFunc("/walks/{walkIdx:[0-9]+}", h.getWalk).Methods(http.MethodGet)
	router.HandleFunc("/walks/{walkIdx:[0-9]+}/status", h.updateWalkStatus).Methods(http.MethodPatch)

	tracing := middleware.NewTracingMiddleware(log)
	cors := middleware.NewCORSMiddleware(cfg.AllowedOrigins, cfg.Boundary.Resolver.Header())
	return tracing.Handler(cors.Handler(router))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload accounts.LoginRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("Malformed login body", err))
		return
	}

	result, err := h.svc.Accounts.Login(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, loginView{
		AccessToken: result.Token,
		UserID:      result.Account.UserID,
		Created:     result.Created,
	})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Accounts.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newAccountView(acct))
}

func (h *handler) autoLogin(w http.ResponseWriter, r *http.Request) {
	acct, err := h.svc.Accounts.AutoLogin(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": acct.Status,
		"logAt":  acct.LoggedAt,
	})
}

func (h *handler) updateNickname(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Nickname string `json:"nickname"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("Malformed nickname body", err))
		return
	}

	acct, err := h.svc.Accounts.UpdateNickname(r.Context(), middleware.GetUserID(r.Context()), payload.Nickname)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newAccountView(acct))
}

func (h *handler) recordWalk(w http.ResponseWriter, r *http.Request) {
	var payload walkPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("Malformed walk body", err))
		return
	}

	created, err := h.svc.Walks.Record(r.Context(), middleware.GetUserID(r.Context()), payload.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]int{"walkIdx": created.Index})
}

func (h *handler) listWalks(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Walks.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]walkView, 0, len(items))
	for _, item := range items {
		views = append(views, newWalkView(item))
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *handler) getWalk(w http.ResponseWriter, r *http.Request) {
	index, err := walkIndex(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.svc.Walks.Get(r.Context(), middleware.GetUserID(r.Context()), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newWalkView(item))
}

func (h *handler) updateWalkStatus(w http.ResponseWriter, r *http.Request) {
	index, err := walkIndex(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var payload struct {
		Status walk.Status `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.BadRequest("Malformed status body", err))
		return
	}

	if err := h.svc.Walks.UpdateStatus(r.Context(), middleware.GetUserID(r.Context()), index, payload.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func walkIndex(r *http.Request) (int, error) {
	raw := mux.Vars(r)["walkIdx"]
	index, err := strconv.Atoi(raw)
	if err != nil || index < 1 {
		return 0, errors.BadRequest(fmt.Sprintf("invalid walk index %q", raw), err)
	}
	return index, nil
}

type loginView struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	Created     bool   `json:"created"`
}

type accountView struct {
	UserID       string         `json:"userId"`
	Nickname     string         `json:"nickname"`
	Email        string         `json:"email,omitempty"`
	ProviderType string         `json:"providerType,omitempty"`
	Status       account.Status `json:"status"`
	LoggedAt     time.Time      `json:"logAt"`
}

func newAccountView(acct account.Account) accountView {
	return accountView{
		UserID:       acct.UserID,
		Nickname:     acct.Nickname,
		Email:        acct.Email,
		ProviderType: acct.ProviderType,
		Status:       acct.Status,
		LoggedAt:     acct.LoggedAt,
	}
}

// walkPayload is the decrypted body of POST /walks.
type walkPayload struct {
	StartAt     time.Time         `json:"startAt"`
	EndAt       time.Time         `json:"endAt"`
	Distance    float64           `json:"distance"`
	Calorie     int               `json:"calorie"`
	Coordinates []walk.Coordinate `json:"coordinates"`
}

func (p walkPayload) toDomain() walk.Walk {
	return walk.Walk{
		StartAt:     p.StartAt,
		EndAt:       p.EndAt,
		Distance:    p.Distance,
		Calorie:     p.Calorie,
		Coordinates: p.Coordinates,
	}
}

type walkView struct {
	WalkIdx     int               `json:"walkIdx"`
	StartAt     time.Time         `json:"startAt"`
	EndAt       time.Time         `json:"endAt"`
	Duration    int64             `json:"duration"`
	Distance    float64           `json:"distance"`
	Calorie     int               `json:"calorie"`
	Coordinates []walk.Coordinate `json:"coordinates"`
}

func newWalkView(item walk.Walk) walkView {
	coords := item.Coordinates
	if coords == nil {
		coords = []walk.Coordinate{}
	}
	return walkView{
		WalkIdx:     item.Index,
		StartAt:     item.StartAt,
		EndAt:       item.EndAt,
		Duration:    int64(item.Duration().Seconds()),
		Distance:    item.Distance,
		Calorie:     item.Calorie,
		Coordinates: coords,
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError maps service errors to structured responses. Unclassified errors become 500s and
// their cause is only logged.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("Internal server error", err)
	}
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}
