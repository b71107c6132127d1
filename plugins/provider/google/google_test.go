package google

import (
	"context"
	"encoding/json"
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

type fixture struct {
	dir   string
	image string
	calls atomic.Int32
}

func newFixture(t *testing.T, handler func(f *fixture, w http.ResponseWriter, req annotateRequest)) (*fixture, *Client) {
	t.Helper()
	f := &fixture{dir: t.TempDir()}
	f.image = filepath.Join(f.dir, "page.jpg")
	require.NoError(t, os.WriteFile(f.image, []byte("jpegbytes"), 0o644))
	require.NoError(t, os.WriteFile(contract.CredentialsPath(f.dir, Name), []byte(`{"api_key":"k1"}`), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, "k1", r.URL.Query().Get("key"))
		var req annotateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		handler(f, w, req)
	}))
	t.Cleanup(srv.Close)

	c, err := New(&Options{Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.InitCredentials(context.Background(), f.dir))
	return f, c
}

func TestAllResultsPerFeature(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, req annotateRequest) {
		if !assert.Len(t, req.Requests, 1) {
			return
		}
		r := req.Requests[0]
		assert.Equal(t, []string{handwritingHint}, r.ImageContext.LanguageHints)
		switch r.Features[0].Type {
		case "DOCUMENT_TEXT_DETECTION":
			_, _ = w.Write([]byte(`{"responses":[{"fullTextAnnotation":{"text":"Dear Sir,\n"}}]}`))
		case "LABEL_DETECTION":
			_, _ = w.Write([]byte(`{"responses":[{"labelAnnotations":[{"description":"Handwriting"}]}]}`))
		default:
			_, _ = w.Write([]byte(`{"responses":[{}]}`))
		}
	})

	text, err := c.DocumentText(context.Background(), f.image)
	require.NoError(t, err)
	assert.Equal(t, "Dear Sir,\n", text)

	res, err := c.AllResults(context.Background(), f.image)
	require.NoError(t, err)
	for _, k := range DefaultFeatures {
		assert.Contains(t, res, k)
	}
	label, err := res.TextAt("label_detection", "labelAnnotations", "0", "description")
	require.NoError(t, err)
	assert.Equal(t, "Handwriting", label)
	// 每特征一次请求，且结果被缓存
	assert.Equal(t, int32(len(DefaultFeatures)), f.calls.Load())
}

func TestNoTextFallsBack(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, req annotateRequest) {
		if req.Requests[0].Features[0].Type == "TEXT_DETECTION" {
			_, _ = w.Write([]byte(`{"responses":[{"textAnnotations":[{"description":"fallback"}]}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"responses":[{}]}`))
	})
	text, err := c.DocumentText(context.Background(), f.image)
	require.NoError(t, err)
	assert.Equal(t, "fallback", text)
}

func TestNoText(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, _ annotateRequest) {
		_, _ = w.Write([]byte(`{"responses":[{}]}`))
	})
	_, err := c.DocumentText(context.Background(), f.image)
	assert.ErrorIs(t, err, contract.ErrNoText)
}

func TestPermissionDeniedIsServiceFailure(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, _ annotateRequest) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`))
	})
	_, err := c.AllResults(context.Background(), f.image)
	assert.ErrorIs(t, err, contract.ErrAuth)
	assert.True(t, contract.IsServiceFailure(err))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestResponseLevelError(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, _ annotateRequest) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`))
	})
	_, err := c.AllResults(context.Background(), f.image)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
	assert.False(t, contract.IsServiceFailure(err))

	// 失败同样缓存
	_, _ = c.AllResults(context.Background(), f.image)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestUnauthenticatedResponseCode(t *testing.T) {
	f, c := newFixture(t, func(_ *fixture, w http.ResponseWriter, _ annotateRequest) {
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":16,"message":"expired"}}]}`))
	})
	_, err := c.AllResults(context.Background(), f.image)
	assert.ErrorIs(t, err, contract.ErrAuth)
}

func TestTooLargeNoNetwork(t *testing.T) {
	f, _ := newFixture(t, func(_ *fixture, w http.ResponseWriter, _ annotateRequest) {
		t.Fatal("no request expected")
	})
	c, err := New(&Options{Endpoint: "http://127.0.0.1:1", MaxBytes: 4})
	require.NoError(t, err)
	require.NoError(t, c.InitCredentials(context.Background(), f.dir))
	_, err = c.AllResults(context.Background(), f.image)
	assert.ErrorIs(t, err, contract.ErrTooLarge)
}

func TestCredentials(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	_, err = c.AllResults(context.Background(), "x.jpg")
	assert.ErrorIs(t, err, contract.ErrNotInitialized)

	dir := t.TempDir()
	assert.ErrorIs(t, c.InitCredentials(context.Background(), dir), contract.ErrCredentials)

	require.NoError(t, os.WriteFile(contract.CredentialsPath(dir, Name), []byte(`{"type":"nonsense"}`), 0o600))
	assert.ErrorIs(t, c.InitCredentials(context.Background(), dir), contract.ErrCredentials)
}

func TestUnknownFeature(t *testing.T) {
	_, err := New(&Options{Features: []string{"ocr_magic"}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
