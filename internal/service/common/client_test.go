//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/metadeploy/internal/version"
)

// TestNewClient_ValidatesBaseURL verifies that NewClient rejects empty and relative URLs.
func TestNewClient_ValidatesBaseURL(t *testing.T) {
	t.Parallel()

	c, err := NewClient("")
	require.ErrorIs(t, err, errBaseURLRequired)
	require.Nil(t, c)

	c, err = NewClient("example.my.salesforce.com")
	require.ErrorIs(t, err, errBaseURLInvalid)
	require.Nil(t, c)

	c, err = NewClient("https://example.my.salesforce.com/")
	require.NoError(t, err)
	require.Equal(t, "https://example.my.salesforce.com", c.BaseURL())
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_Requests checks headers and bodies of every request helper.
func TestClient_Requests(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/services/Soap/m/58.0":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "deploy", r.Header.Get("SOAPAction"))
			assert.Equal(t, "<Envelope/>", string(body))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("<fault/>"))
		case "/services/data/v58.0/status":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"done":true}`))
		case "/services/data/v58.0/quick":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.JSONEq(t, `{"id":"0Af"}`, string(body))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"0Ag"}`))
		case "/services/oauth2/token":
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.Equal(t, "grant_type=x", string(body))
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, WithAccessToken("token-1"), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	require.Equal(t, "token-1", c.AccessToken())

	ctx := context.Background()

	resp, err := c.PostSOAP(ctx, "/services/Soap/m/58.0", "deploy", []byte("<Envelope/>"))
	require.NoError(t, err)
	require.False(t, resp.IsSuccess())
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "<fault/>", string(resp.Body))

	resp, err = c.GetJSON(ctx, "services/data/v58.0/status")
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())

	var status struct {
		Done bool `json:"done"`
	}

	require.NoError(t, resp.DecodeJSON(&status))
	require.True(t, status.Done)

	resp, err = c.PostJSON(ctx, "/services/data/v58.0/quick", map[string]string{"id": "0Af"})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())

	resp, err = c.PostForm(ctx, "/services/oauth2/token", url.Values{"grant_type": {"x"}})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())

	require.Error(t, (&Response{Body: []byte("not json")}).DecodeJSON(&status))
}

// TestClient_TransportError wraps failures to reach the server.
func TestClient_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	c, err := NewClient(server.URL)
	require.NoError(t, err)

	_, err = c.GetJSON(context.Background(), "/anything")
	require.Error(t, err)
}
