package microsoft

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handprint/pkg/contract"
)

const readResult = `{"status":"succeeded","analyzeResult":{"readResults":[
 {"page":1,"lines":[{"text":"first line"},{"text":"second line"}]},
 {"page":2,"lines":[{"text":"third"}]}]}}`

func setup(t *testing.T, h http.HandlerFunc) (*Client, string) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	img := filepath.Join(dir, "page.png")
	require.NoError(t, os.WriteFile(img, []byte("pngbytes"), 0o644))
	creds := fmt.Sprintf(`{"subscription_key":"sk","endpoint":%q}`, srv.URL+"/")
	require.NoError(t, os.WriteFile(contract.CredentialsPath(dir, Name), []byte(creds), 0o600))
	c := New(&Options{PollIntervalMillis: 1, MaxPolls: 5})
	require.NoError(t, c.InitCredentials(context.Background(), dir))
	return c, img
}

func TestReadSubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	c, img := setup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk", r.Header.Get(keyHeader))
		switch r.URL.Path {
		case analyzePath:
			assert.Equal(t, http.MethodPost, r.Method)
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, "pngbytes", string(b))
			w.Header().Set("Operation-Location", "http://"+r.Host+"/ops/1")
			w.WriteHeader(http.StatusAccepted)
		case "/ops/1":
			w.Header().Set("Content-Type", "application/json")
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"status":"running"}`))
				return
			}
			_, _ = w.Write([]byte(readResult))
		default:
			http.NotFound(w, r)
		}
	})

	text, err := c.DocumentText(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\nthird", text)
	res, err := c.AllResults(context.Background(), img)
	require.NoError(t, err)
	status, _ := res.Lookup("read", "status")
	assert.Equal(t, "succeeded", status)
	assert.Equal(t, int32(2), polls.Load())
}

func TestUnauthorized(t *testing.T) {
	c, img := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"401","message":"Access denied due to invalid subscription key."}}`))
	})
	_, err := c.AllResults(context.Background(), img)
	assert.ErrorIs(t, err, contract.ErrAuth)
	assert.True(t, contract.IsServiceFailure(err))
}

func TestAnalysisFailed(t *testing.T) {
	c, img := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == analyzePath {
			w.Header().Set("Operation-Location", "http://"+r.Host+"/ops/9")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status":"failed"}`))
	})
	_, err := c.AllResults(context.Background(), img)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestPollExhausted(t *testing.T) {
	c, img := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == analyzePath {
			w.Header().Set("Operation-Location", "http://"+r.Host+"/ops/2")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status":"notStarted"}`))
	})
	_, err := c.AllResults(context.Background(), img)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestTooLarge(t *testing.T) {
	c, img := setup(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	c.maxBytes = 2
	_, err := c.AllResults(context.Background(), img)
	assert.ErrorIs(t, err, contract.ErrTooLarge)
}

func TestCredentialsIncomplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(contract.CredentialsPath(dir, Name), []byte(`{"subscription_key":"x"}`), 0o600))
	assert.ErrorIs(t, New(nil).InitCredentials(context.Background(), dir), contract.ErrCredentials)
	_, err := New(nil).DocumentText(context.Background(), "a.png")
	assert.ErrorIs(t, err, contract.ErrNotInitialized)
}
