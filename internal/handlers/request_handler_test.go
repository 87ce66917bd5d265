package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/argon2"

	"github.com/kivapay/backend/internal/models"
	"github.com/kivapay/backend/internal/services"
)

func setupHandlerTest(t *testing.T) (*PaymentRequestHandler, sqlmock.Sqlmock, func()) {
	t.Helper()

	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	requests := services.NewPaymentRequestService(db, services.NewLedgerService(db), services.NewNotificationService(nil))
	codes := services.NewShareCodeService(nil)
	reauth := services.NewReauthService(db, nil)

	handler := NewPaymentRequestHandler(requests, codes, reauth)
	return handler, mock, func() { db.Close() }
}

// hashTestPassword builds a stored credential the same way registration does.
func hashTestPassword(t *testing.T, password string) (string, error) {
	t.Helper()

	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

func authenticatedRequest(method, target string, body []byte, userID string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func TestPaymentRequestHandler_CreateRequest(t *testing.T) {
	handler, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	t.Run("creates a pending request", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
		mock.ExpectQuery("SELECT first_name, last_name FROM users").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}).AddRow("Awa", "Diallo"))
		mock.ExpectExec("INSERT INTO payment_requests").
			WithArgs(sqlmock.AnyArg(), 1, "Awa Diallo", 2, int64(1500), "lunch", models.RequestStatusPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(map[string]any{"targetId": 2, "amount": 1500, "note": "lunch"})
		r := authenticatedRequest("POST", "/payment-requests", body, "1")
		w := httptest.NewRecorder()

		handler.CreateRequest(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var created models.PaymentRequest
		json.Unmarshal(w.Body.Bytes(), &created)
		assert.Equal(t, models.RequestStatusPending, created.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requesting money from yourself", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"targetId": 1, "amount": 1500})
		r := authenticatedRequest("POST", "/payment-requests", body, "1")
		w := httptest.NewRecorder()

		handler.CreateRequest(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing auth context", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"targetId": 2, "amount": 1500})
		r := httptest.NewRequest("POST", "/payment-requests", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.CreateRequest(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		r := authenticatedRequest("POST", "/payment-requests", []byte("not json"), "1")
		w := httptest.NewRecorder()

		handler.CreateRequest(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentRequestHandler_AcceptRequest(t *testing.T) {
	handler, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Post("/payment-requests/{requestId}/accept", handler.AcceptRequest)

	t.Run("accept pays and marks the request paid", func(t *testing.T) {
		hash, err := hashTestPassword(t, "password123")
		assert.NoError(t, err)

		// Re-authentication
		mock.ExpectQuery("SELECT password FROM users").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"password"}).AddRow(hash))

		// Load and authorize the request
		mock.ExpectQuery("SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "requester_label", "target_id", "amount", "note", "status", "created_at"}).
				AddRow("req-1", 1, "Awa Diallo", 2, 1500, "lunch", models.RequestStatusPending, time.Now()))
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))
		mock.ExpectQuery("SELECT first_name, last_name FROM users").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"first_name", "last_name"}).AddRow("Binta", "Sow"))

		// Transfer from target to requester
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, version, updated_at").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version", "updated_at"}).
				AddRow(10, 2000, 1, time.Now()))
		mock.ExpectQuery("SELECT id, balance, version, updated_at").
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version", "updated_at"}).
				AddRow(20, 5000, 1, time.Now()))
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(3500), sqlmock.AnyArg(), 20, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(3500), sqlmock.AnyArg(), 10, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("TX-00000042", 20, models.TxTypeTransferOut, int64(-1500), "Awa Diallo", "lunch (request req-1)", models.TxStatusSucceeded, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("TX-00000042", 10, models.TxTypeTransferIn, int64(1500), "Binta Sow", "lunch (request req-1)", models.TxStatusSucceeded, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		// Settlement observed, request flips to PAID
		mock.ExpectExec("UPDATE payment_requests").
			WithArgs(models.RequestStatusPaid, "req-1", models.RequestStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "requester_label", "target_id", "amount", "note", "status", "created_at"}).
				AddRow("req-1", 1, "Awa Diallo", 2, 1500, "lunch", models.RequestStatusPaid, time.Now()))

		body, _ := json.Marshal(map[string]string{"password": "password123"})
		r := authenticatedRequest("POST", "/payment-requests/req-1/accept", body, "2")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var result services.MovementResult
		json.Unmarshal(w.Body.Bytes(), &result)
		assert.Equal(t, "TX-00000042", result.Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password blocks the accept", func(t *testing.T) {
		hash, err := hashTestPassword(t, "password123")
		assert.NoError(t, err)

		mock.ExpectQuery("SELECT password FROM users").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"password"}).AddRow(hash))

		body, _ := json.Marshal(map[string]string{"password": "wrongpass"})
		r := authenticatedRequest("POST", "/payment-requests/req-1/accept", body, "2")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRequestHandler_DeclineRequest(t *testing.T) {
	handler, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Post("/payment-requests/{requestId}/decline", handler.DeclineRequest)

	t.Run("declining an already terminal request conflicts", func(t *testing.T) {
		mock.ExpectExec("UPDATE payment_requests").
			WithArgs(models.RequestStatusDeclined, "req-1", 2, models.RequestStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 0))

		r := authenticatedRequest("POST", "/payment-requests/req-1/decline", nil, "2")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRequestHandler_GetRequest(t *testing.T) {
	handler, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Get("/payment-requests/{requestId}", handler.GetRequest)

	t.Run("stranger cannot view the request", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "requester_label", "target_id", "amount", "note", "status", "created_at"}).
				AddRow("req-1", 1, "Awa Diallo", 2, 1500, "", models.RequestStatusPending, time.Now()))

		r := authenticatedRequest("GET", "/payment-requests/req-1", nil, "9")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRequestHandler_GenerateQR(t *testing.T) {
	handler, mock, cleanup := setupHandlerTest(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Get("/payment-requests/{requestId}/qr", handler.GenerateQR)

	t.Run("requester gets a QR image", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "requester_label", "target_id", "amount", "note", "status", "created_at"}).
				AddRow("req-1", 1, "Awa Diallo", 2, 1500, "lunch", models.RequestStatusPending, time.Now()))

		r := authenticatedRequest("GET", "/payment-requests/req-1/qr", nil, "1")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response["qrImage"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("target may not render the QR", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at").
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "requester_id", "requester_label", "target_id", "amount", "note", "status", "created_at"}).
				AddRow("req-1", 1, "Awa Diallo", 2, 1500, "lunch", models.RequestStatusPending, time.Now()))

		r := authenticatedRequest("GET", "/payment-requests/req-1/qr", nil, "2")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRequestHandler_RedeemCode(t *testing.T) {
	handler, _, cleanup := setupHandlerTest(t)
	defer cleanup()

	t.Run("malformed code fails validation", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"code": "abc"})
		r := authenticatedRequest("POST", "/payment-requests/redeem", body, "1")
		w := httptest.NewRecorder()

		handler.RedeemCode(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
