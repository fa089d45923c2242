package resilience

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(eris.New("column does not exist")))

	assert.True(t, IsTransient(NewTransientError(eris.New("503 from webhook"), 503)))
	// Classification survives wrapping.
	assert.True(t, IsTransient(eris.Wrap(NewTransientError(eris.New("down"), 0), "notify")))

	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
}

func TestIsTransient_PostgresCodes(t *testing.T) {
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))  // serialization failure
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40P01"}))  // deadlock
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))  // connection failure
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23505"})) // unique violation is data
	assert.False(t, IsTransient(&pgconn.PgError{Code: "42703"})) // undefined column
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(eris.Wrap(&pgconn.PgError{Code: "23505"}, "insert")))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsUniqueViolation(eris.New("duplicate-sounding message")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
