// Package httpapi exposes the REST API, the public collect endpoint and the
// live dashboard websocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/onevisitor/onevisitor/internal/app"
	"github.com/onevisitor/onevisitor/internal/domain/analytics"
	"github.com/onevisitor/onevisitor/internal/domain/site"
	"github.com/onevisitor/onevisitor/internal/domain/user"
	serviceerrors "github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/httputil"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/middleware"
	analyticssvc "github.com/onevisitor/onevisitor/internal/services/analytics"
	"github.com/onevisitor/onevisitor/internal/services/tracker"
	"github.com/onevisitor/onevisitor/internal/storage"
)

// publicPaths skip bearer authentication. Entries ending in "/" match as
// prefixes.
var publicPaths = []string{
	"/health",
	"/ready",
	"/metrics",
	"/tracker.js",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
	"/api/v1/auth/verify-email",
	"/api/v1/auth/password-reset",
	"/api/v1/auth/password-reset/confirm",
	"/api/v1/tracker/",
}

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logging.Logger
	live  *Hub
	ready func(context.Context) error
}

// NewHandler builds the routed handler with the full middleware stack. The
// ready callback reports backing-store health for /ready.
func NewHandler(application *app.Application, ready func(context.Context) error) http.Handler {
	log := application.Log.WithComponent("httpapi")
	h := &handler{
		app:   application,
		log:   log,
		live:  NewHub(log),
		ready: ready,
	}
	application.Tracker.AttachFeed(h.live)

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.MetricsMiddleware("onevisitor", application.Metrics))
	r.Use(middleware.NewCORSMiddleware(application.Config.CORS.Origins()).Handler)

	rl := middleware.NewRateLimiter(application.Config.RateLimit.RequestsPerSecond, application.Config.RateLimit.Burst, log)
	r.Use(rl.Handler)

	auth := middleware.NewAuthMiddleware(application.Users.Tokens(), log, publicPaths)
	r.Use(auth.Handler)

	// preflights must match a route for the middleware chain to run; the CORS
	// layer answers them before this handler is reached
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// operational endpoints
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.readiness).Methods(http.MethodGet)
	r.Handle("/metrics", application.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/tracker.js", h.trackerScript).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// authentication
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify-email", h.verifyEmail).Methods(http.MethodPost)
	api.HandleFunc("/auth/password-reset", h.requestPasswordReset).Methods(http.MethodPost)
	api.HandleFunc("/auth/password-reset/confirm", h.confirmPasswordReset).Methods(http.MethodPost)

	// account
	api.HandleFunc("/users/me", h.currentUser).Methods(http.MethodGet)
	api.HandleFunc("/users/me/password", h.changePassword).Methods(http.MethodPut)
	api.HandleFunc("/users/me/profile", h.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/me/profile", h.updateProfile).Methods(http.MethodPut)
	api.HandleFunc("/users/me/activities", h.listActivities).Methods(http.MethodGet)

	// sites
	api.HandleFunc("/sites", h.createSite).Methods(http.MethodPost)
	api.HandleFunc("/sites", h.listSites).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}", h.getSite).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}", h.updateSite).Methods(http.MethodPut)
	api.HandleFunc("/sites/{id}", h.deleteSite).Methods(http.MethodDelete)
	api.HandleFunc("/sites/{id}/snippet", h.siteSnippet).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/members", h.inviteMember).Methods(http.MethodPost)
	api.HandleFunc("/sites/{id}/members", h.listMembers).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/members/{userID}", h.setMemberRole).Methods(http.MethodPut)
	api.HandleFunc("/sites/{id}/members/{userID}", h.removeMember).Methods(http.MethodDelete)
	api.HandleFunc("/sites/{id}/domains", h.addDomain).Methods(http.MethodPost)
	api.HandleFunc("/sites/{id}/domains", h.listDomains).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/domains/{domainID}/verify", h.verifyDomain).Methods(http.MethodPost)
	api.HandleFunc("/sites/{id}/domains/{domainID}", h.removeDomain).Methods(http.MethodDelete)
	api.HandleFunc("/sites/{id}/settings", h.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/settings", h.updateSettings).Methods(http.MethodPut)

	// analytics
	api.HandleFunc("/sites/{id}/analytics/summary", h.analyticsSummary).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/analytics/pages", h.analyticsTopPages).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/analytics/referrers", h.analyticsTopReferrers).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/analytics/breakdown", h.analyticsBreakdown).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/analytics/timeseries", h.analyticsTimeSeries).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/analytics/daily", h.analyticsDaily).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/visitors", h.recentVisitors).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}/events", h.recentEvents).Methods(http.MethodGet)

	// public tracker endpoints
	api.HandleFunc("/tracker/collect", h.collect).Methods(http.MethodPost)
	api.HandleFunc("/tracker/live/{id}", h.liveFeed).Methods(http.MethodGet)

	// staff-only operations
	api.Handle("/admin/system", middleware.RequireStaff(http.HandlerFunc(h.systemStats))).Methods(http.MethodGet)
	api.Handle("/admin/users", middleware.RequireStaff(http.HandlerFunc(h.adminListUsers))).Methods(http.MethodGet)

	return r
}

// respondError maps service and storage errors onto the canonical payload.
func (h *handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(serviceerrors.CodeNotFound), "resource not found", nil)
		return
	}
	if serviceErr := serviceerrors.GetServiceError(err); serviceErr != nil {
		httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
		return
	}

	h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, string(serviceerrors.CodeInternal), "internal server error", nil)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": err.Error()})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- auth -------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	created, verification, err := h.app.Users.Register(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	// the verification token would normally leave through an email gateway;
	// returning it keeps the flow testable without one
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"user":               created,
		"verification_token": verification.Token,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	u, pair, err := h.app.Users.Login(r.Context(), payload.Email, payload.Password, httputil.ClientIP(r), r.UserAgent())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": u, "tokens": pair})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	pair, err := h.app.Users.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"tokens": pair})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	if err := h.app.Users.Logout(r.Context(), middleware.GetUserID(r.Context()), payload.RefreshToken); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	if err := h.app.Users.VerifyEmail(r.Context(), payload.Token); err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	token, err := h.app.Users.RequestPasswordReset(r.Context(), payload.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	response := map[string]string{"status": "ok"}
	if token.Token != "" {
		response["reset_token"] = token.Token
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

func (h *handler) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	if err := h.app.Users.ResetPassword(r.Context(), payload.Token, payload.Password); err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- account ----------------------------------------------------------------

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	if err := h.app.Users.ChangePassword(r.Context(), middleware.GetUserID(r.Context()), payload.CurrentPassword, payload.NewPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Users.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var payload user.Profile
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	payload.UserID = middleware.GetUserID(r.Context())

	p, err := h.app.Users.UpdateProfile(r.Context(), payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.app.Users.Activities(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, activities)
}

// --- sites ------------------------------------------------------------------

func (h *handler) createSite(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	created, err := h.app.Sites.Create(r.Context(), middleware.GetUserID(r.Context()), payload.Name, payload.Domain)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listSites(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Sites.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getSite(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Sites.Get(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *handler) updateSite(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Domain   string `json:"domain"`
		IsActive *bool  `json:"is_active"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	userID := middleware.GetUserID(r.Context())
	siteID := mux.Vars(r)["id"]

	existing, err := h.app.Sites.Get(r.Context(), userID, siteID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	existing.Name = payload.Name
	existing.Domain = payload.Domain
	if payload.IsActive != nil {
		existing.IsActive = *payload.IsActive
	}

	updated, err := h.app.Sites.Update(r.Context(), userID, existing)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteSite(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Sites.Delete(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) siteSnippet(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Sites.Get(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"tracking_code": st.TrackingCode,
		"snippet":       TrackerSnippet(st.TrackingCode),
	})
}

func (h *handler) inviteMember(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	member, err := h.app.Sites.Invite(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Email, payload.Role)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, member)
}

func (h *handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.app.Sites.Members(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

func (h *handler) setMemberRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role string `json:"role"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	vars := mux.Vars(r)
	member, err := h.app.Sites.SetMemberRole(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["userID"], payload.Role)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}

func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Sites.RemoveMember(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["userID"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addDomain(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Domain string `json:"domain"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	created, err := h.app.Sites.AddDomain(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"], payload.Domain)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.app.Sites.Domains(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domains)
}

func (h *handler) verifyDomain(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}

	vars := mux.Vars(r)
	verified, err := h.app.Sites.VerifyDomain(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["domainID"], payload.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verified)
}

func (h *handler) removeDomain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Sites.RemoveDomain(r.Context(), middleware.GetUserID(r.Context()), vars["id"], vars["domainID"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Sites.Settings(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var payload site.Settings
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	payload.SiteID = mux.Vars(r)["id"]

	cfg, err := h.app.Sites.UpdateSettings(r.Context(), middleware.GetUserID(r.Context()), payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

// --- analytics --------------------------------------------------------------

// queryRange parses the optional start/end query parameters (RFC 3339).
func queryRange(r *http.Request) (start, end time.Time, err error) {
	if raw := r.URL.Query().Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return time.Time{}, time.Time{}, serviceerrors.BadRequest("start must be RFC 3339")
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return time.Time{}, time.Time{}, serviceerrors.BadRequest("end must be RFC 3339")
		}
	}
	return start, end, nil
}

// analyticsQuery authorizes the caller and resolves the requested range.
func (h *handler) analyticsQuery(w http.ResponseWriter, r *http.Request) (string, analytics.Range, bool) {
	siteID := mux.Vars(r)["id"]
	if _, err := h.app.Sites.Get(r.Context(), middleware.GetUserID(r.Context()), siteID); err != nil {
		h.respondError(w, r, err)
		return "", analytics.Range{}, false
	}

	start, end, err := queryRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return "", analytics.Range{}, false
	}
	rng, err := analyticssvc.ResolveRange(start, end)
	if err != nil {
		h.respondError(w, r, err)
		return "", analytics.Range{}, false
	}
	return siteID, rng, true
}

func (h *handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	summary, err := h.app.Analytics.Summary(r.Context(), siteID, rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *handler) analyticsTopPages(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	pages, err := h.app.Analytics.TopPages(r.Context(), siteID, rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pages)
}

func (h *handler) analyticsTopReferrers(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	referrers, err := h.app.Analytics.TopReferrers(r.Context(), siteID, rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, referrers)
}

func (h *handler) analyticsBreakdown(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	entries, err := h.app.Analytics.Breakdown(r.Context(), siteID, r.URL.Query().Get("dimension"), rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handler) analyticsTimeSeries(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	points, err := h.app.Analytics.TimeSeries(r.Context(), siteID, rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, points)
}

func (h *handler) analyticsDaily(w http.ResponseWriter, r *http.Request) {
	siteID, rng, ok := h.analyticsQuery(w, r)
	if !ok {
		return
	}
	stats, err := h.app.Analytics.DailyStats(r.Context(), siteID, rng)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *handler) recentVisitors(w http.ResponseWriter, r *http.Request) {
	siteID := mux.Vars(r)["id"]
	if _, err := h.app.Sites.Get(r.Context(), middleware.GetUserID(r.Context()), siteID); err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	visitors, err := h.app.Tracker.RecentVisitors(r.Context(), siteID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, visitors)
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	siteID := mux.Vars(r)["id"]
	if _, err := h.app.Sites.Get(r.Context(), middleware.GetUserID(r.Context()), siteID); err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.app.Tracker.RecentEvents(r.Context(), siteID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// --- tracker ----------------------------------------------------------------

func (h *handler) collect(w http.ResponseWriter, r *http.Request) {
	var hit tracker.Hit
	if err := httputil.DecodeJSON(r, &hit); err != nil {
		h.respondError(w, r, serviceerrors.BadRequest(err.Error()))
		return
	}
	hit.IPAddress = httputil.ClientIP(r)
	hit.UserAgent = r.UserAgent()
	if hit.Referrer == "" {
		hit.Referrer = r.Referer()
	}

	if _, err := h.app.Tracker.Collect(r.Context(), hit); err != nil {
		// rejected hits still answer 204 so tracker scripts never retry
		if errors.Is(err, tracker.ErrRejected) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) liveFeed(w http.ResponseWriter, r *http.Request) {
	siteID := mux.Vars(r)["id"]

	// browsers cannot set headers on websocket dials, so the token rides the
	// query string
	claims, err := h.app.Users.Tokens().ParseAccessToken(r.URL.Query().Get("token"))
	if err != nil {
		httputil.Unauthorized(w, "")
		return
	}
	if _, err := h.app.Sites.Get(r.Context(), claims.UserID, siteID); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.live.ServeWS(w, r, siteID)
}
