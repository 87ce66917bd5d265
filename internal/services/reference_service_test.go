package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestReferenceService_NextReference(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReferenceService(db)

	t.Run("zero-pads the counter value", func(t *testing.T) {
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))

		reference, err := service.NextReference()
		assert.NoError(t, err)
		assert.Equal(t, "TX-00000042", reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wide values keep their full width", func(t *testing.T) {
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(123456789))

		reference, err := service.NextReference()
		assert.NoError(t, err)
		assert.Equal(t, "TX-123456789", reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing counter row", func(t *testing.T) {
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnError(sql.ErrNoRows)

		_, err := service.NextReference()
		assert.ErrorIs(t, err, ErrCounterUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("values are strictly increasing", func(t *testing.T) {
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(100))
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(101))

		first, err := service.NextReference()
		assert.NoError(t, err)
		second, err := service.NextReference()
		assert.NoError(t, err)
		assert.Less(t, first, second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReferenceService_NextReferenceTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewReferenceService(db)

	t.Run("mints inside the caller transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		reference, err := service.NextReferenceTx(tx)
		assert.NoError(t, err)
		assert.Equal(t, "TX-00000007", reference)

		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing counter row inside transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.NextReferenceTx(tx)
		assert.ErrorIs(t, err, ErrCounterUnavailable)

		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
