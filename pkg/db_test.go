package pkg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolationError(t *testing.T) {
	assert.False(t, IsUniqueViolationError(nil))
	assert.False(t, IsUniqueViolationError(errors.New("some error")))
	assert.False(t, IsUniqueViolationError(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsUniqueViolationError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolationError(fmt.Errorf("insert user: %w", &pgconn.PgError{Code: "23505"})))
}
