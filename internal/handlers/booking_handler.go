package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/campusmart/marketplace-backend/internal/middleware"
	"github.com/campusmart/marketplace-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BookingOperations is the booking surface the HTTP layer drives
type BookingOperations interface {
	CreateListing(ctx context.Context, actor models.Actor, payload models.CreateListingRequest) (*models.Listing, error)
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	CreateRequest(ctx context.Context, actor models.Actor, listingID uuid.UUID, payload models.CreateBookingRequestPayload) (*models.BookingRequestView, error)
	GetRequest(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.BookingRequestView, error)
	ListRequestsReceived(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.BookingRequestView, error)
	ListRequestsSent(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.BookingRequestView, error)
	Respond(ctx context.Context, actor models.Actor, requestID uuid.UUID, payload models.RespondPayload) (*models.BookingRequestView, error)
	Cancel(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.BookingRequest, error)
}

// BookingHandler handles listing and booking request HTTP requests
type BookingHandler struct {
	bookings BookingOperations
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingOperations, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// RegisterRoutes mounts the booking routes on an authenticated group
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	listings := rg.Group("/listings")
	{
		listings.POST("", h.CreateListing)
		listings.GET("/:id", h.GetListing)
		listings.POST("/:id/requests", h.CreateRequest)
	}

	requests := rg.Group("/requests")
	{
		requests.GET("/received", h.ListReceived)
		requests.GET("/sent", h.ListSent)
		requests.GET("/:id", h.GetRequest)
		requests.POST("/:id/respond", h.Respond)
		requests.POST("/:id/cancel", h.Cancel)
	}
}

// CreateListing handles POST /api/v1/listings
func (h *BookingHandler) CreateListing(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var payload models.CreateListingRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	listing, err := h.bookings.CreateListing(c.Request.Context(), actor, payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// GetListing handles GET /api/v1/listings/:id
func (h *BookingHandler) GetListing(c *gin.Context) {
	listingID, ok := parseID(c, "listing")
	if !ok {
		return
	}

	listing, err := h.bookings.GetListing(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// CreateRequest handles POST /api/v1/listings/:id/requests
func (h *BookingHandler) CreateRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	listingID, ok := parseID(c, "listing")
	if !ok {
		return
	}

	var payload models.CreateBookingRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	request, err := h.bookings.CreateRequest(c.Request.Context(), actor, listingID, payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *BookingHandler) GetRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	requestID, ok := parseID(c, "request")
	if !ok {
		return
	}

	request, err := h.bookings.GetRequest(c.Request.Context(), actor, requestID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// ListReceived handles GET /api/v1/requests/received
func (h *BookingHandler) ListReceived(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	requests, err := h.bookings.ListRequestsReceived(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests),
	})
}

// ListSent handles GET /api/v1/requests/sent
func (h *BookingHandler) ListSent(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}

	requests, err := h.bookings.ListRequestsSent(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests),
	})
}

// Respond handles POST /api/v1/requests/:id/respond
func (h *BookingHandler) Respond(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	requestID, ok := parseID(c, "request")
	if !ok {
		return
	}

	var payload models.RespondPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid_request", "Invalid request body: "+err.Error())
		return
	}

	request, err := h.bookings.Respond(c.Request.Context(), actor, requestID, payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// Cancel handles POST /api/v1/requests/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	requestID, ok := parseID(c, "request")
	if !ok {
		return
	}

	request, err := h.bookings.Cancel(c.Request.Context(), actor, requestID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (h *BookingHandler) actor(c *gin.Context) (models.Actor, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "User context not found",
		})
		return models.Actor{}, false
	}
	return userCtx.Actor(), true
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id", "Invalid "+what+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// parseFilter reads ?status=&kind=&limit=&offset=. Unknown status or kind
// values are passed through so the service reports them as field errors.
func parseFilter(c *gin.Context) (models.RequestFilter, bool) {
	var filter models.RequestFilter

	if status := c.Query("status"); status != "" {
		s := models.BookingRequestStatus(status)
		filter.Status = &s
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.ListingKind(kind)
		filter.Kind = &k
	}

	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid_query", q.name+" must be a non-negative integer")
			return models.RequestFilter{}, false
		}
		*q.dst = n
	}

	return filter, true
}
