package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aaronwang/campus-auction/internal/auth"
	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/aaronwang/campus-auction/internal/service"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
	defaultAuditLimit        = 100
	maxAuditLimit            = 1000
)

// AuctionService is the engine surface used by the HTTP layer
type AuctionService interface {
	CreateAuction(ctx context.Context, seller models.Identity, in service.NewAuction) (*models.AuctionItem, error)
	Detail(ctx context.Context, auctionID string, caller *models.Identity) (*service.DetailView, error)
	SubmitBid(ctx context.Context, auctionID string, bidder models.Identity, price int64) (*service.BidResult, error)
	BidHistory(ctx context.Context, auctionID string) ([]*models.Bid, error)
	CheckAndCloseIfExpired(ctx context.Context, auctionID string) (*service.CloseResult, error)
}

// NotificationReader serves a user's notifications
type NotificationReader interface {
	List(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	MarkAllRead(ctx context.Context, userID string, now time.Time) error
}

// AuditReader serves the archived bid trail of an auction
type AuditReader interface {
	ListByAuction(ctx context.Context, auctionID string, limit int) ([]models.AuditEntry, error)
}

// RouteRegistrar mounts extra routes, such as the realtime endpoints
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Options configures a Handler
type Options struct {
	Auctions      AuctionService
	Notifications NotificationReader
	Audit         AuditReader
	Tokens        *auth.TokenService
	Realtime      RouteRegistrar
	Logger        *zap.Logger
	CORSOrigins   []string
}

// Handler contains HTTP request handlers
type Handler struct {
	auctions      AuctionService
	notifications NotificationReader
	audit         AuditReader
	tokens        *auth.TokenService
	realtime      RouteRegistrar
	logger        *zap.Logger
	corsOrigins   []string
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Handler{
		auctions:      opts.Auctions,
		notifications: opts.Notifications,
		audit:         opts.Audit,
		tokens:        opts.Tokens,
		realtime:      opts.Realtime,
		logger:        opts.Logger,
		corsOrigins:   opts.CORSOrigins,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() http.Handler {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/auctions", h.requireAuth(h.CreateAuction)).Methods("POST")
	api.Handle("/auctions/{id}", h.optionalAuth(h.GetAuction)).Methods("GET")
	api.Handle("/auctions/{id}/bid", h.requireAuth(h.PlaceBid)).Methods("POST")
	api.HandleFunc("/auctions/{id}/bids", h.ListBids).Methods("GET")
	api.HandleFunc("/auctions/{id}/end", h.TryEnd).Methods("POST")
	if h.audit != nil {
		api.Handle("/auctions/{id}/audit", h.requireAuth(h.ListAudit)).Methods("GET")
	}
	api.Handle("/notifications", h.requireAuth(h.ListNotifications)).Methods("GET")
	api.Handle("/notifications/read", h.requireAuth(h.MarkNotificationsRead)).Methods("POST")

	if h.realtime != nil {
		h.realtime.RegisterRoutes(router)
	}

	router.Use(h.loggingMiddleware)

	return cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	})(router)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "api-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateAuction lists a new item for the authenticated seller
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	seller, _ := auth.FromContext(r.Context())

	var req models.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.auctions.CreateAuction(r.Context(), seller, service.NewAuction{
		Title:       req.Title,
		Description: req.Description,
		FileURL:     req.FileURL,
		FileType:    req.FileType,
		StartPrice:  req.StartPrice,
		EndAt:       req.EndDate,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// GetAuction returns an auction, closing it first if its deadline passed
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	var caller *models.Identity
	if id, ok := auth.FromContext(r.Context()); ok {
		caller = &id
	}

	view, err := h.auctions.Detail(r.Context(), auctionID, caller)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	bidder, _ := auth.FromContext(r.Context())

	var bidReq models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&bidReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.auctions.SubmitBid(r.Context(), auctionID, bidder, bidReq.Price)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.BidResponse{
		NewPrice:   result.NewPrice,
		NewEndDate: result.NewEndAt,
	})
}

// ListBids returns the bid history of an auction
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.BidHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}

	respondJSON(w, http.StatusOK, bids)
}

// TryEnd runs the expiry check for an auction
func (h *Handler) TryEnd(w http.ResponseWriter, r *http.Request) {
	res, err := h.auctions.CheckAndCloseIfExpired(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"closed": res.Closed,
		"status": res.Item.Status,
	})
}

// ListAudit returns the archived bid trail of an auction, oldest first
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultAuditLimit, maxAuditLimit)
	if !ok {
		return
	}

	entries, err := h.audit.ListByAuction(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}

	respondJSON(w, http.StatusOK, entries)
}

// ListNotifications returns the caller's notifications, newest first
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	limit, ok := parseLimit(w, r, defaultNotificationLimit, maxNotificationLimit)
	if !ok {
		return
	}

	items, err := h.notifications.List(r.Context(), caller.ID, limit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Notification{}
	}

	respondJSON(w, http.StatusOK, items)
}

// MarkNotificationsRead marks every notification of the caller as read
func (h *Handler) MarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	if err := h.notifications.MarkAllRead(r.Context(), caller.ID, time.Now()); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseLimit reads the optional limit query parameter, capped at maxLimit
func parseLimit(w http.ResponseWriter, r *http.Request, defaultLimit, maxLimit int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}
