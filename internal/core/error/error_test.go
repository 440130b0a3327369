package errx

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.ErrorIs(t, err, redis.Nil)

	boom := errors.New("conn refused")
	err = WrapRedis(boom)
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), RedisErrorMessage)
}

func TestWrapPostgresAndSQL(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(WrapPostgres(pgx.ErrNoRows)))
	assert.Equal(t, http.StatusNotFound, StatusOf(WrapSQL(sql.ErrNoRows)))
	assert.Equal(t, http.StatusBadGateway, StatusOf(WrapSQL(errors.New("locked"))))
}

func TestAppErrorAs(t *testing.T) {
	wrapped := fmt.Errorf("load checkpoint: %w", WrapPostgres(errors.New("timeout")))

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, PostgresErrorMessage, appErr.Message)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
