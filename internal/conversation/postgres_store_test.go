package conversation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreReadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	key := Key{DeviceID: "dev-1", Phone: "60123456789"}

	mock.ExpectQuery("SELECT stage, conv_last, conv_current").
		WithArgs(key.DeviceID, key.Phone).
		WillReturnError(sql.ErrNoRows)

	rec, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReadExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	key := Key{DeviceID: "dev-1", Phone: "60123456789"}
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"stage", "conv_last", "conv_current", "human_mode", "detail", "version", "updated_at"}).
		AddRow("greeting", "hello", "anyone there?", true, "vip", int64(3), now)
	mock.ExpectQuery("SELECT stage, conv_last, conv_current").
		WithArgs(key.DeviceID, key.Phone).
		WillReturnRows(rows)

	rec, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, "greeting", rec.Stage)
	assert.Equal(t, "hello", rec.ConvLast)
	assert.Equal(t, "anyone there?", rec.ConvCurrent)
	assert.True(t, rec.HumanMode)
	assert.Equal(t, int64(3), rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWriteInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := &Record{
		Key:         Key{DeviceID: "dev-1", Phone: "60123456789"},
		Stage:       "greeting",
		ConvCurrent: "hi",
	}

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(rec.Key.DeviceID, rec.Key.Phone, rec.Stage, rec.ConvLast, rec.ConvCurrent, rec.HumanMode, rec.Detail, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Write(context.Background(), rec))
	assert.Equal(t, int64(1), rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWriteInsertConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := &Record{Key: Key{DeviceID: "dev-1", Phone: "60123456789"}}

	mock.ExpectExec("INSERT INTO conversations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Write(context.Background(), rec)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWriteUpdateStaleVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := &Record{
		Key:     Key{DeviceID: "dev-1", Phone: "60123456789"},
		Version: 2,
	}

	mock.ExpectExec("UPDATE conversations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Write(context.Background(), rec)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(2), rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWriteUpdateBumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := &Record{
		Key:         Key{DeviceID: "dev-1", Phone: "60123456789"},
		ConvLast:    "hi",
		ConvCurrent: "hi again",
		Version:     2,
	}

	mock.ExpectExec("UPDATE conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Write(context.Background(), rec))
	assert.Equal(t, int64(3), rec.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	key := Key{DeviceID: "dev-1", Phone: "60123456789"}

	mock.ExpectExec("DELETE FROM conversations").
		WithArgs(key.DeviceID, key.Phone).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), key))
	require.NoError(t, mock.ExpectationsWereMet())
}
