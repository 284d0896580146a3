package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitAndDrainRequest(t *testing.T) {
	var readErr error
	handler := LimitAndDrainRequest(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/acwr/loads", strings.NewReader("12345678")))
	require.NoError(t, readErr)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/acwr/loads", strings.NewReader("123456789")))
	var tooLarge *http.MaxBytesError
	assert.True(t, errors.As(readErr, &tooLarge))
}

func TestLimitAndDrainRequest_UnreadBodyIsDrained(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("unread payload")}
	handler := LimitAndDrainRequest(0)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest("POST", "/acwr/loads", nil)
	req.Body = body
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, body.closed)
	assert.Equal(t, 0, body.Reader.(*strings.Reader).Len())
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}
