package authintercept

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
)

func TestAllowAllAlwaysAllows(t *testing.T) {
	r, err := AllowAll{}.Check(context.Background(), "/", "PLAIN", "creds")
	assert.NilError(t, err)
	assert.Assert(t, r.Allowed)
}

func TestHTTPClientParsesAllowDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"DENY","reason":"bad credentials"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Check(context.Background(), "/", "PLAIN", "creds")
	assert.NilError(t, err)
	assert.Assert(t, !res.Allowed)
	assert.Equal(t, res.Reason, "bad credentials")
}
