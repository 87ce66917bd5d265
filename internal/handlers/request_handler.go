package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kivapay/backend/internal/services"
)

// PaymentRequestHandler is the HTTP surface of the request state machine.
// The handler only decodes, authorizes and encodes; state transitions live
// in the service.
type PaymentRequestHandler struct {
	requests  *services.PaymentRequestService
	codes     *services.ShareCodeService
	reauth    *services.ReauthService
	validator *services.ValidationHelper
}

func NewPaymentRequestHandler(requests *services.PaymentRequestService, codes *services.ShareCodeService, reauth *services.ReauthService) *PaymentRequestHandler {
	return &PaymentRequestHandler{
		requests:  requests,
		codes:     codes,
		reauth:    reauth,
		validator: services.NewValidationHelper(),
	}
}

// CreateRequest creates a payment request
// @Summary Create a payment request
// @Description Ask another user for money; the request starts PENDING
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{targetId=int,amount=int64,note=string} true "Request details"
// @Success 201 {object} models.PaymentRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests [post]
func (h *PaymentRequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		TargetID int    `json:"targetId" validate:"required,gt=0"`
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Note     string `json:"note" validate:"max=200"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.TargetID == userID {
		services.SendErrorResponse(w, "Cannot request money from yourself", http.StatusBadRequest, nil)
		return
	}

	created, err := h.requests.Create(r.Context(), userID, req.TargetID, req.Amount, req.Note)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// ListRequests lists the caller's payment requests
// @Summary List payment requests
// @Description Get requests where the caller is requester or target, newest first
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of records (default 50, max 200)"
// @Success 200 {array} models.PaymentRequest
// @Failure 500 {object} services.ErrorResponse
// @Router /payment-requests [get]
func (h *PaymentRequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	requests, err := h.requests.ListForUser(r.Context(), userID, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch payment requests", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

// GetRequest returns one payment request
// @Summary Get a payment request
// @Description Get a single request; only the requester or target may view it
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Success 200 {object} models.PaymentRequest
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests/{requestId} [get]
func (h *PaymentRequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil || (req.RequesterID != userID && req.TargetID != userID) {
		services.SendErrorResponse(w, "Payment request not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// AcceptRequest accepts a payment request and pays it
// @Summary Accept a payment request
// @Description Pay a pending request; only the target may accept, after re-authentication
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Param request body object{password=string} true "Re-authentication"
// @Success 200 {object} services.MovementResult
// @Failure 401 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payment-requests/{requestId}/accept [post]
func (h *PaymentRequestHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	requestID := chi.URLParam(r, "requestId")

	var req struct {
		Password string `json:"password" validate:"required,min=6"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.reauth.Verify(r.Context(), userID, req.Password, "transfer"); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	result, err := h.requests.Accept(r.Context(), requestID, userID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	// The transfer has settled once Accept returns, so flip the request to
	// PAID here. A concurrent decline loses: the conditional update inside
	// MarkPaid only moves PENDING rows.
	if err := h.requests.MarkPaid(r.Context(), requestID); err != nil {
		log.Printf("[REQUEST] Transfer %s settled but request %s not marked paid: %v", result.Reference, requestID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// DeclineRequest declines a payment request
// @Summary Decline a payment request
// @Description Decline a pending request; only the target may decline
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /payment-requests/{requestId}/decline [post]
func (h *PaymentRequestHandler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.requests.Decline(r.Context(), chi.URLParam(r, "requestId"), userID); err != nil {
		services.SendLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "declined"})
}

// GenerateQR renders a payment request as a QR code
// @Summary Generate request QR code
// @Description Render the request as a scannable QR image; requester only
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Success 200 {object} object{qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests/{requestId}/qr [get]
func (h *PaymentRequestHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil || req.RequesterID != userID {
		services.SendErrorResponse(w, "Payment request not found", http.StatusNotFound, nil)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"requestId": req.ID,
		"requester": req.RequesterLabel,
		"amount":    req.Amount,
		"note":      req.Note,
	})
	if err != nil {
		services.SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		log.Printf("[REQUEST] QR generation failed for request %s: %v", req.ID, err)
		services.SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrImage": base64.StdEncoding.EncodeToString(png),
	})
}

// IssueCode issues a short share code for a payment request
// @Summary Issue a share code
// @Description Create a single-use numeric code that resolves to the request; requester only
// @Tags payment-requests
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Request ID"
// @Success 200 {object} object{code=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /payment-requests/{requestId}/code [post]
func (h *PaymentRequestHandler) IssueCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil || req.RequesterID != userID {
		services.SendErrorResponse(w, "Payment request not found", http.StatusNotFound, nil)
		return
	}

	code, err := h.codes.Issue(r.Context(), userID, req.ID)
	if err != nil {
		if err == services.ErrCodeRateLimited {
			services.SendErrorResponse(w, err.Error(), http.StatusTooManyRequests, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to issue code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"code": code})
}

// RedeemCode resolves a share code to its payment request
// @Summary Redeem a share code
// @Description Consume a share code and return the request it points at
// @Tags payment-requests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Share code"
// @Success 200 {object} models.PaymentRequest
// @Failure 404 {object} services.ErrorResponse
// @Router /payment-requests/redeem [post]
func (h *PaymentRequestHandler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	if _, ok := authenticatedUserID(r); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Code string `json:"code" validate:"required,len=8,numeric"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	requestID, err := h.codes.Redeem(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, "Invalid or expired code", http.StatusNotFound, nil)
		return
	}

	paymentRequest, err := h.requests.Get(r.Context(), requestID)
	if err != nil {
		services.SendErrorResponse(w, "Payment request not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(paymentRequest)
}

func authenticatedUserID(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return userID, true
}
