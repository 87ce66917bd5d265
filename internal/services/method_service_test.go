package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/kivapay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPaymentMethodService_LinkMethod(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPaymentMethodService(db)

	t.Run("linking a wallet creates a fresh account", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs(1, sqlmock.AnyArg(), "Orange Money", "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		body, _ := json.Marshal(LinkMethodRequest{Label: "Orange Money", Kind: "WALLET"})
		r := authedRequest("POST", "/payment-methods", body, "1")
		w := httptest.NewRecorder()

		service.LinkMethod(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var account models.Account
		json.Unmarshal(w.Body.Bytes(), &account)
		assert.Equal(t, 11, account.ID)
		assert.Len(t, account.AccountNumber, 10)
		assert.Equal(t, int64(0), account.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown kind fails validation", func(t *testing.T) {
		body, _ := json.Marshal(LinkMethodRequest{Label: "Cash", Kind: "CASH"})
		r := authedRequest("POST", "/payment-methods", body, "1")
		w := httptest.NewRecorder()

		service.LinkMethod(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		r := authedRequest("POST", "/payment-methods", []byte(`{"label":"OM","kind":"WALLET","extra":true}`), "1")
		w := httptest.NewRecorder()

		service.LinkMethod(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentMethodService_GetMethod(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPaymentMethodService(db)

	router := chi.NewRouter()
	router.Get("/payment-methods/{accountId}", service.GetMethod)

	t.Run("owner fetches the method", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, label").
			WithArgs(11, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "label", "balance", "version", "status", "created_at", "updated_at"}).
				AddRow(11, 1, "5551234567", "Orange Money", 0, 1, "ACTIVE", time.Now(), time.Now()))

		r := authedRequest("GET", "/payment-methods/11", nil, "1")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var account models.Account
		json.Unmarshal(w.Body.Bytes(), &account)
		assert.Equal(t, "Orange Money", account.Label)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("someone else's method is not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, label").
			WithArgs(11, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "label", "balance", "version", "status", "created_at", "updated_at"}))

		r := authedRequest("GET", "/payment-methods/11", nil, "2")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
