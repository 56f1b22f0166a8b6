package verify

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	answer   string
	err      error
	panicMsg string

	gotImage []byte
	gotMime  string
	calls    int
}

func (f *fakeProvider) AnalyzeImage(_ context.Context, imageData []byte, mimeType, _ string) (string, error) {
	f.calls++
	f.gotImage = imageData
	f.gotMime = mimeType
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.answer, f.err
}

func (f *fakeProvider) SourceName() string {
	return "Fake"
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDisabledClientAlwaysApproves(t *testing.T) {
	provider := &fakeProvider{answer: `{"isFire": false}`}
	clients := []*Client{
		NewClient(Config{Enabled: false}, provider),
		NewClient(Config{Enabled: true}, nil),
	}
	for _, c := range clients {
		for _, ref := range []string{"", "not a url", "http://127.0.0.1:1/none.jpg"} {
			res, err := c.Verify(context.Background(), ref)
			require.NoError(t, err)
			assert.True(t, res.IsFire)
			assert.Equal(t, 0.95, res.Score)
			assert.False(t, res.Failed)
		}
	}
	assert.Zero(t, provider.calls)
}

func TestVerifyUsesProvider(t *testing.T) {
	srv := imageServer(t)
	provider := &fakeProvider{answer: `{"isFire": true, "confidence": 0.9, "reasoning": "flames on curtain"}`}
	c := NewClient(Config{Enabled: true}, provider)

	res, err := c.Verify(context.Background(), srv.URL+"/cam.png")
	require.NoError(t, err)
	assert.True(t, res.IsFire)
	assert.Equal(t, 0.9, res.Score)
	assert.Equal(t, "Fake", res.Source)
	assert.Equal(t, "image/png", provider.gotMime)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, provider.gotImage)
}

func TestVerifyFailures(t *testing.T) {
	srv := imageServer(t)
	testCases := []struct {
		name     string
		ref      string
		provider *fakeProvider
	}{
		{
			name:     "image fetch fails",
			ref:      srv.URL + "/missing.jpg",
			provider: &fakeProvider{answer: `{"isFire": true}`},
		},
		{
			name:     "provider error",
			ref:      srv.URL + "/cam.png",
			provider: &fakeProvider{err: errors.New("quota exceeded")},
		},
		{
			name:     "provider panics",
			ref:      srv.URL + "/cam.png",
			provider: &fakeProvider{panicMsg: "boom"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name+" fail closed", func(t *testing.T) {
			c := NewClient(Config{Enabled: true}, tc.provider)
			res, err := c.Verify(context.Background(), tc.ref)
			require.NoError(t, err)
			assert.True(t, res.Failed)
			assert.False(t, res.IsFire)
			assert.Zero(t, res.Score)
			assert.NotEmpty(t, res.Rationale)
		})
		t.Run(tc.name+" fail open", func(t *testing.T) {
			c := NewClient(Config{Enabled: true, FailOpen: true}, tc.provider)
			res, err := c.Verify(context.Background(), tc.ref)
			require.NoError(t, err)
			assert.True(t, res.Failed)
			assert.True(t, res.IsFire)
			assert.Equal(t, 0.5, res.Score)
		})
	}
}

func TestVerifyDownscalesLargeSnapshots(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 100))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	provider := &fakeProvider{answer: `{"isFire": true}`}
	c := NewClient(Config{Enabled: true, MaxImageDimension: 200}, provider)
	_, err := c.Verify(context.Background(), srv.URL+"/big.png")
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", provider.gotMime)
	got, err := jpeg.Decode(bytes.NewReader(provider.gotImage))
	require.NoError(t, err)
	assert.Equal(t, 200, got.Bounds().Dx())
	assert.Equal(t, 50, got.Bounds().Dy())
}
