package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost",
		"https://localhost:8443",
		"http://127.0.0.1:3000",
		"http://127.0.0.1",
		"http://127.0.0.2:5173",
		"http://[::1]:3000",
	}
	for _, origin := range allowed {
		assert.True(t, isAllowedOrigin(origin), origin)
	}

	denied := []string{
		"https://evil.com",
		"http://localhost.evil.com",
		"http://127.0.0.1.nip.io",
		"http://192.168.1.1:3000",
		"http://10.0.0.1",
		"",
		"null",
		"ftp://localhost:3000",
		"file://localhost",
		"http://localhost:not-a-port",
		"http://localhost:3000/path",
		"http://localhost:3000?x=1",
		"http://user@localhost:3000",
	}
	for _, origin := range denied {
		assert.False(t, isAllowedOrigin(origin), origin)
	}
}

func TestIsLoopbackRemoteAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:12345", true},
		{"[::1]:12345", true},
		{"::1", true},
		{"[::1]", true},
		{"127.0.0.1", true},
		{"8.8.8.8:12345", false},
		{"192.168.1.1:8080", false},
		{"10.0.0.1:3000", false},
		{"not-an-ip:1234", false},
		{"", false},
		{"garbage", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isLoopbackRemoteAddr(tc.addr), tc.addr)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func failHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the handler")
	})
}

func serveWithOrigin(h http.Handler, method, path, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCORSAllowlist_AllowedOrigin(t *testing.T) {
	rr := serveWithOrigin(CORSAllowlist()(okHandler()), http.MethodGet, "/health", "http://localhost:3000")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))
}

func TestCORSAllowlist_DeniedOrigin_GET(t *testing.T) {
	rr := serveWithOrigin(CORSAllowlist()(okHandler()), http.MethodGet, "/health", "https://evil.com")

	require.Equal(t, http.StatusOK, rr.Code, "the request is still served, just without ACAO")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlist_DeniedOrigin_Preflight(t *testing.T) {
	rr := serveWithOrigin(CORSAllowlist()(failHandler(t)), http.MethodOptions, "/exports", "https://evil.com")

	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlist_NoOrigin(t *testing.T) {
	rr := serveWithOrigin(CORSAllowlist()(okHandler()), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlist_Preflight(t *testing.T) {
	handler := CORSAllowlist()(failHandler(t))

	req := httptest.NewRequest(http.MethodOptions, "/playback/clip", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "range,authorization")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)

	checkList := func(header string, want ...string) {
		t.Helper()
		got := splitHeader(rr.Header().Get(header))
		for _, w := range want {
			assert.True(t, got[w], "%s missing %q, got %q", header, w, rr.Header().Get(header))
		}
	}
	checkList("Access-Control-Allow-Headers", "Range", "Content-Type", "Authorization", "X-Request-ID")
	checkList("Access-Control-Expose-Headers", "Content-Range", "Accept-Ranges", "Content-Length", "Content-Disposition")
	checkList("Access-Control-Allow-Methods", "GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS")
}

func splitHeader(v string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out[p] = true
		}
	}
	return out
}

func TestCORSAllowlist_VaryIsAdditive(t *testing.T) {
	handler := CORSAllowlist()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	rr.Header().Set("Vary", "Accept-Encoding")
	handler.ServeHTTP(rr, req)

	vary := splitHeader(strings.Join(rr.Header().Values("Vary"), ","))
	assert.True(t, vary["Accept-Encoding"], "existing Vary kept")
	assert.True(t, vary["Origin"])
}

func TestLoopbackGuard(t *testing.T) {
	cases := []struct {
		remote string
		want   int
	}{
		{"8.8.8.8:12345", http.StatusForbidden},
		{"127.0.0.1:12345", http.StatusOK},
		{"[::1]:12345", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/playback/clip?clip_id=test", nil)
			req.RemoteAddr = tc.remote
			rr := httptest.NewRecorder()
			LoopbackGuard()(okHandler()).ServeHTTP(rr, req)

			require.Equal(t, tc.want, rr.Code)
			if tc.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", decodeJSONBody(t, rr)["code"])
			}
		})
	}
}

func TestPlaybackRoute_LoopbackWithoutAuth(t *testing.T) {
	server := httptest.NewServer(NewRouter(testConfig(nil)))
	defer server.Close()

	resp, err := http.Get(server.URL + "/playback/clip?clip_id=c-front")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "loopback playback needs no token")
}

func TestPlaybackRoute_DriveDisconnected(t *testing.T) {
	cfg := testConfig(nil)
	svc := cfg.CatalogService.(*fakeService)
	svc.source.Present = false
	svc.source.DriveNickname = "TESLADRIVE"

	rr := httptest.NewRecorder()
	NewRouter(cfg).ServeHTTP(rr, local(httptest.NewRequest(http.MethodGet, "/playback/clip?clip_id=c-back", nil)))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "DRIVE_DISCONNECTED", decodeJSONBody(t, rr)["code"])
}

func TestHealthRoute_CORS_Integration(t *testing.T) {
	rr := serveWithOrigin(NewRouter(testConfig(nil)), http.MethodGet, "/health", "http://localhost:3000")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHEAD_PlaybackClip(t *testing.T) {
	server := httptest.NewServer(NewRouter(testConfig(nil)))
	defer server.Close()

	for _, tc := range []struct {
		query string
		want  int
	}{
		{"?clip_id=c-front", http.StatusOK},
		{"", http.StatusBadRequest},
		{"?clip_id=missing", http.StatusNotFound},
	} {
		req, err := http.NewRequest(http.MethodHead, server.URL+"/playback/clip"+tc.query, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, tc.want, resp.StatusCode, "HEAD %q", tc.query)
		assert.Empty(t, body, "HEAD %q", tc.query)
	}
}
