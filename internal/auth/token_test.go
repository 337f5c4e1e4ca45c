package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"":                  "",
		"Bearer":            "",
		"Basic dXNlcjpwYXNz": "",
		"Bearer abc123":     "abc123",
		"bearer abc123":     "abc123",
		"Bearer  spaced ":   "spaced",
	} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(req), header)
	}
}
