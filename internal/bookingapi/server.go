// Package bookingapi is the browser-facing HTTP API in front of BookingService.
package bookingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
	"github.com/MarkoPoloResearchLab/courtbook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/courtbook/internal/observability"
)

const (
	claimsContextKey      = "auth_claims"
	idempotencyHeader     = "Idempotency-Key"
	errorCodeUnauthorized = "unauthorized"
	errorCodePayload      = "invalid_payload"
	errorCodeUpstream     = "booking_service_error"
)

// bookingService is the part of grpcserver.Client the API calls.
type bookingService interface {
	ListSlots(ctx context.Context, request *grpcserver.ListSlotsRequest) (*grpcserver.ListSlotsResponse, error)
	Book(ctx context.Context, request *grpcserver.BookRequest) (*grpcserver.BookResponse, error)
	Cancel(ctx context.Context, request *grpcserver.CancelRequest) (*grpcserver.CancelResponse, error)
	ListBookings(ctx context.Context, request *grpcserver.ListBookingsRequest) (*grpcserver.ListBookingsResponse, error)
	GetBalance(ctx context.Context, request *grpcserver.BalanceRequest) (*grpcserver.Balance, error)
	ListEntries(ctx context.Context, request *grpcserver.ListEntriesRequest) (*grpcserver.ListEntriesResponse, error)
}

// Run boots the HTTP API using the supplied configuration and blocks until ctx ends.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	client, conn, err := grpcserver.Dial(dialCtx, cfg.BookingAddress, cfg.BookingInsecure)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	recorder, err := observability.NewRecorder(logger, nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		bookings: client,
		recorder: recorder,
		cfg:      cfg,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(cfg, handler, sessionValidator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bookingapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", idempotencyHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(handler.recorder.Handler()))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.GET("/slots", handler.handleListSlots)
	api.GET("/bookings", handler.handleListBookings)
	api.POST("/bookings", handler.handleBook)
	api.POST("/bookings/:id/cancel", handler.handleCancel)
	api.GET("/wallet", handler.handleWallet)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	bookings bookingService
	recorder *observability.Recorder
	cfg      Config
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleListSlots(ctx *gin.Context) {
	if getClaims(ctx) == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	clubID := defaultIfEmpty(ctx.Query("club_id"), handler.cfg.DefaultClubID)
	if strings.TrimSpace(clubID) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(string(booking.KindValidation), "club_id is required"))
		return
	}
	onlyBookable, _ := strconv.ParseBool(ctx.DefaultQuery("bookable", "false"))

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	response, err := handler.bookings.ListSlots(requestCtx, &grpcserver.ListSlotsRequest{
		ClubID:       clubID,
		Date:         ctx.Query("date"),
		InstructorID: ctx.Query("instructor_id"),
		OnlyBookable: onlyBookable,
	})
	if err != nil {
		handler.respondError(ctx, "list slots failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"slots": response.Slots})
}

func (handler *httpHandler) handleBook(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	var request bookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodePayload, "expected JSON body"))
		return
	}
	if request.GroupSize == 0 {
		request.GroupSize = 1
	}
	idempotencyKey := strings.TrimSpace(ctx.GetHeader(idempotencyHeader))
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(request.IdempotencyKey)
	}
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("book:%s", uuid.NewString())
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	startedAt := time.Now()
	response, err := handler.bookings.Book(requestCtx, &grpcserver.BookRequest{
		UserID:         claims.GetUserID(),
		SlotID:         request.SlotID,
		GroupSize:      request.GroupSize,
		Unit:           request.Unit,
		IdempotencyKey: idempotencyKey,
	})
	handler.observe(ctx.Request.Context(), booking.OperationRecord{
		Operation: booking.OperationBook,
		UserID:    claims.GetUserID(),
		SlotID:    request.SlotID,
		Duration:  time.Since(startedAt),
		Error:     grpcserver.BookingError(err),
	})
	if err != nil {
		handler.respondError(ctx, "book failed", err)
		return
	}
	statusCode := http.StatusCreated
	if response.Replayed {
		statusCode = http.StatusOK
	}
	ctx.JSON(statusCode, response)
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodePayload, "expected JSON body"))
		return
	}
	bookingID := ctx.Param("id")

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	startedAt := time.Now()
	response, err := handler.bookings.Cancel(requestCtx, &grpcserver.CancelRequest{
		BookingID: bookingID,
		UserID:    claims.GetUserID(),
		Reason:    request.Reason,
	})
	handler.observe(ctx.Request.Context(), booking.OperationRecord{
		Operation: booking.OperationCancel,
		UserID:    claims.GetUserID(),
		BookingID: bookingID,
		Duration:  time.Since(startedAt),
		Error:     grpcserver.BookingError(err),
	})
	if err != nil {
		handler.respondError(ctx, "cancel failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	fromUnixMs, err := parseOptionalInt64(ctx.Query("from_unix_ms"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(string(booking.KindValidation), "from_unix_ms must be an integer"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	response, err := handler.bookings.ListBookings(requestCtx, &grpcserver.ListBookingsRequest{UserID: claims.GetUserID(), FromUnixMs: fromUnixMs})
	if err != nil {
		handler.respondError(ctx, "list bookings failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": response.Bookings})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	wallet, err := handler.fetchWallet(ctx.Request.Context(), claims.GetUserID(), ctx.Query("unit"))
	if err != nil {
		handler.respondError(ctx, "wallet fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func (handler *httpHandler) fetchWallet(ctx context.Context, userID string, unit string) (*walletResponse, error) {
	requestCtx, cancel := context.WithTimeout(ctx, handler.cfg.RequestTimeout)
	defer cancel()
	balance, err := handler.bookings.GetBalance(requestCtx, &grpcserver.BalanceRequest{UserID: userID, Unit: unit})
	if err != nil {
		return nil, err
	}

	entriesCtx, entriesCancel := context.WithTimeout(ctx, handler.cfg.RequestTimeout)
	defer entriesCancel()
	entriesResp, err := handler.bookings.ListEntries(entriesCtx, &grpcserver.ListEntriesRequest{
		UserID: userID,
		Limit:  handler.cfg.WalletHistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]entryPayload, 0, len(entriesResp.Entries))
	for _, entry := range entriesResp.Entries {
		if unit != "" && entry.Unit != balance.Unit {
			continue
		}
		entries = append(entries, entryPayload{
			EntryID:        entry.EntryID,
			Unit:           entry.Unit,
			Type:           entry.Type,
			AmountCents:    entry.AmountCents,
			ReservationID:  entry.ReservationID,
			IdempotencyKey: entry.IdempotencyKey,
			Metadata:       metadataPayload(entry.MetadataJSON),
			CreatedUnixMs:  entry.CreatedUnixMs,
		})
	}
	return &walletResponse{Balance: *balance, Entries: entries}, nil
}

func (handler *httpHandler) observe(ctx context.Context, record booking.OperationRecord) {
	if handler.recorder != nil {
		handler.recorder.ObserveOperation(ctx, record)
	}
}

// respondError renders the booking kind carried by a BookingService status.
func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	kind := grpcserver.KindFromStatus(err)
	if kind == "" || kind == booking.KindInternal || kind == booking.KindLedgerInvariant {
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(errorCodeUpstream, message))
		return
	}
	ctx.JSON(httpStatusForKind(kind), errorResponse(string(kind), message))
}

func httpStatusForKind(kind booking.Kind) int {
	switch kind {
	case booking.KindValidation:
		return http.StatusBadRequest
	case booking.KindInsufficientCredit:
		return http.StatusPaymentRequired
	case booking.KindSlotFull, booking.KindSlotAlreadyCancelled, booking.KindSlotExpired, booking.KindNoCourtAvailable,
		booking.KindInstructorUnavailable, booking.KindBookingAlreadyCancelled, booking.KindConcurrentConflict:
		return http.StatusConflict
	case booking.KindSlotNotFound, booking.KindNotFound:
		return http.StatusNotFound
	case booking.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func parseOptionalInt64(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func metadataPayload(raw string) json.RawMessage {
	if !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type bookRequest struct {
	SlotID         string `json:"slot_id"`
	GroupSize      int32  `json:"group_size"`
	Unit           string `json:"unit"`
	IdempotencyKey string `json:"idempotency_key"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type walletResponse struct {
	Balance grpcserver.Balance `json:"balance"`
	Entries []entryPayload     `json:"entries"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Unit           string          `json:"unit"`
	Type           string          `json:"type"`
	AmountCents    int64           `json:"amount_cents"`
	ReservationID  string          `json:"reservation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixMs  int64           `json:"created_unix_ms"`
}
