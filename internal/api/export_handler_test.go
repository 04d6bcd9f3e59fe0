package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
)

func postExport(t *testing.T, cfg ServerConfig, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := authed(httptest.NewRequest(http.MethodPost, "/exports", strings.NewReader(body)))
	NewRouter(cfg).ServeHTTP(rr, req)
	return rr
}

func TestStartExport_UsesViewerSelection(t *testing.T) {
	cfg := testConfig(nil)
	exp := cfg.Exports.(*fakeExporter)
	svc := cfg.CatalogService.(*fakeService)

	_, err := cfg.Viewer.Update(testSetKey, func(s *viewer.State) error {
		if err := s.SetVisible("back", false); err != nil {
			return err
		}
		return s.Move("left", 0)
	})
	require.NoError(t, err)

	rr := postExport(t, cfg, `{"source_id":"src-1","set":"`+testSetKey+`","format":"Square"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, exp.started, 1)

	req := exp.started[0]
	assert.Equal(t, export.FormatSquare, req.Format)
	assert.Equal(t, "left,front", strings.Join(req.Visible.Cameras(), ","), "right has no clip and back is hidden")
	assert.Equal(t, export.PolicyShortest, req.Policy.Kind)
	assert.Equal(t, 1, svc.probeCalls)
	assert.Equal(t, string(export.StateIdle), decodeJSONBody(t, rr)["state"])
}

func TestStartExport_DefaultsToLatestSetAndPolicy(t *testing.T) {
	cfg := testConfig(nil)
	cfg.ExportDefaults = export.Defaults{Format: export.FormatPortrait, Policy: export.PolicyFrames, FrameBudget: 90}
	exp := cfg.Exports.(*fakeExporter)

	rr := postExport(t, cfg, ``)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	req := exp.started[0]
	assert.Equal(t, export.FormatPortrait, req.Format)
	assert.Equal(t, export.PolicyFrames, req.Policy.Kind)
	assert.Equal(t, 90, req.Policy.Frames)
	assert.Len(t, req.Visible, 3)
}

func TestStartExport_RangePolicy(t *testing.T) {
	cfg := testConfig(nil)
	exp := cfg.Exports.(*fakeExporter)

	rr := postExport(t, cfg, `{"stop_policy":{"kind":"range","start_ms":2000,"end_ms":5000}}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	p := exp.started[0].Policy
	assert.Equal(t, export.PolicyRange, p.Kind)
	assert.Equal(t, 2*time.Second, p.Start)
	assert.Equal(t, 5*time.Second, p.End)
}

func TestStartExport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		wantCode int
		wantErr  string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad format", `{"format":"cinema"}`, nil, http.StatusBadRequest, "INVALID_FORMAT"},
		{"bad policy", `{"stop_policy":{"kind":"forever"}}`, nil, http.StatusBadRequest, "INVALID_TIME_RANGE"},
		{"missing set", `{"set":"2020-01-01_00-00-00"}`, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad output dir", `{"output_dir":"/tmp/../etc"}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"busy", `{}`, export.ErrExportBusy, http.StatusConflict, "EXPORT_BUSY"},
		{
			"no visible streams", `{}`,
			&export.Error{Kind: export.KindNoVisibleStreams, Err: fmt.Errorf("empty")},
			http.StatusBadRequest, "NO_VISIBLE_STREAMS",
		},
		{
			"unsupported pane count", `{}`,
			&export.Error{Kind: export.KindUnsupportedPaneCount},
			http.StatusBadRequest, "UNSUPPORTED_PANE_COUNT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(nil)
			cfg.Exports.(*fakeExporter).startErr = tt.startErr

			rr := postExport(t, cfg, tt.body)
			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantErr, decodeJSONBody(t, rr)["code"])
		})
	}
}

func TestExportRoutes_GetCancelDeleteDownload(t *testing.T) {
	cfg := testConfig(nil)
	exp := cfg.Exports.(*fakeExporter)
	pb := cfg.PlaybackServer.(*fakePlayback)
	exp.statuses = map[string]*export.Status{
		"done": {
			ID:    "done",
			State: export.StateDelivered,
			Artifact: &export.Artifact{
				Name: "tesla_cam_export_landscape.mp4", MIMEType: "video/mp4", Path: "/tmp/x/output.mp4",
			},
		},
		"failed": {ID: "failed", State: export.StateFailed, ErrorKind: export.KindSinkFailure},
	}
	router := NewRouter(cfg)

	do := func(r *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, r)
		return rr
	}

	assert.Equal(t, http.StatusOK, do(authed(httptest.NewRequest(http.MethodGet, "/exports/done", nil))).Code)
	assert.Equal(t, http.StatusNotFound, do(authed(httptest.NewRequest(http.MethodGet, "/exports/nope", nil))).Code)

	rr := do(authed(httptest.NewRequest(http.MethodGet, "/exports?limit=5", nil)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeJSONBody(t, rr)["exports"], 2)
	assert.Equal(t, http.StatusBadRequest, do(authed(httptest.NewRequest(http.MethodGet, "/exports?limit=0", nil))).Code)

	assert.Equal(t, http.StatusAccepted, do(authed(httptest.NewRequest(http.MethodPost, "/exports/done/cancel", nil))).Code)

	rr = do(local(httptest.NewRequest(http.MethodGet, "/exports/done/download", nil)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "tesla_cam_export_landscape.mp4", pb.attachment)
	assert.Equal(t, http.StatusNotFound, do(local(httptest.NewRequest(http.MethodGet, "/exports/failed/download", nil))).Code,
		"a failed export has nothing to download")

	exp.active = export.NewJob(nil, export.FormatLandscape, export.StopPolicy{Kind: export.PolicyShortest})
	exp.statuses[exp.active.ID] = &export.Status{ID: exp.active.ID}
	assert.Equal(t, http.StatusConflict, do(authed(httptest.NewRequest(http.MethodDelete, "/exports/"+exp.active.ID, nil))).Code)
	assert.Equal(t, http.StatusNoContent, do(authed(httptest.NewRequest(http.MethodDelete, "/exports/done", nil))).Code)
	assert.Equal(t, []string{"done"}, exp.deleted)
}

func TestExportPolicy(t *testing.T) {
	defaults := export.Defaults{Policy: export.PolicyFrames, FrameBudget: 120}

	p, err := exportPolicy(defaults, nil)
	require.NoError(t, err)
	assert.Equal(t, export.PolicyFrames, p.Kind)
	assert.Equal(t, 120, p.Frames)

	p, err = exportPolicy(defaults, &StopPolicyRequest{Kind: "frames", Frames: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, p.Frames)

	p, err = exportPolicy(export.Defaults{}, &StopPolicyRequest{})
	require.NoError(t, err)
	assert.Equal(t, export.PolicyShortest, p.Kind)
}
