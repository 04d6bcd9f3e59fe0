package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbgbgb8/tesla-x-cam/internal/db"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	return database, NewRepository(database.Conn())
}

func TestService_AddFolder(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	dir := t.TempDir()

	source, err := svc.AddFolder(context.Background(), dir, "Garage USB")
	require.NoError(t, err)
	assert.NotEmpty(t, source.ID)
	assert.Equal(t, dir, source.Path)
	assert.Equal(t, "Garage USB", source.DisplayName)
}

func TestService_AddFolder_InvalidPath(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	_, err := NewService(repo, nil).AddFolder(context.Background(), "/nonexistent/TeslaCam", "Test")
	assert.Error(t, err)
}

func TestService_AddFolder_NotDirectory(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	file := filepath.Join(t.TempDir(), "2024-03-09_18-22-41-front.mp4")
	require.NoError(t, os.WriteFile(file, []byte("clip"), 0644))

	_, err := NewService(repo, nil).AddFolder(context.Background(), file, "Test")
	assert.Error(t, err, "a file is not a source folder")
}

func TestService_ExecuteScan(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.mp4"), []byte("fake video content for testing"), 0644))

	source := scanFolder(t, svc, dir)

	clips, err := svc.GetClips(context.Background(), source.ID)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, "test.mp4", clips[0].Filename)
}

func TestService_ExecuteScan_SkipsHiddenDirs(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.mp4"), []byte("visible"), 0644))
	hidden := filepath.Join(dir, ".hidden")
	require.NoError(t, os.Mkdir(hidden, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "hidden.mp4"), []byte("hidden"), 0644))

	source := scanFolder(t, svc, dir)

	clips, err := svc.GetClips(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Len(t, clips, 1, "hidden folders are skipped")
}

func writeDashcamSet(t *testing.T, dir, stamp string, cameras ...string) {
	t.Helper()
	for _, cam := range cameras {
		name := filepath.Join(dir, stamp+"-"+cam+".mp4")
		require.NoError(t, os.WriteFile(name, []byte(stamp+cam), 0644))
	}
}

type fakeProber struct {
	calls int
	res   *ffmpeg.ProbeResult
	err   error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func scanFolder(t *testing.T, svc *Service, dir string) *Source {
	t.Helper()
	ctx := context.Background()
	source, err := svc.AddFolder(ctx, dir, "")
	require.NoError(t, err)
	job, err := svc.ScanSource(ctx, source.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteScan(ctx, job.ID, source.ID, source.Path))
	return source
}

func TestService_ClipSetsAndLatest(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	dir := t.TempDir()
	writeDashcamSet(t, dir, "2024-03-09_18-20-41", "front", "back", "left_repeater", "right_repeater")
	writeDashcamSet(t, dir, "2024-03-09_18-21-41", "front", "back", "left_repeater", "right_repeater")
	writeDashcamSet(t, dir, "2024-03-09_18-22-41", "front", "back")
	source := scanFolder(t, svc, dir)

	sets, err := svc.ClipSets(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, sets, 3)

	latest, err := svc.LatestSet(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09_18-21-41", latest.Key, "the newest complete set wins")
	require.Len(t, latest.Clips, 4)
	assert.Equal(t, CameraFront, latest.Clips[0].Camera)
	assert.Equal(t, CameraRight, latest.Clips[3].Camera)

	set, err := svc.ClipSet(ctx, source.ID, "2024-03-09_18-22-41")
	require.NoError(t, err)
	assert.False(t, set.Complete())

	_, err = svc.ClipSet(ctx, source.ID, "2000-01-01_00-00-00")
	assert.ErrorIs(t, err, ErrSetNotFound)

	tr, err := svc.TimeRange(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09_18-20-41", SetKey(tr.Start))
	assert.Equal(t, "2024-03-09_18-22-41", SetKey(tr.End), "unprobed clips add no duration")
}

func TestService_ScanQueuesFollowUpJobs(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	svc := NewService(repo, nil)
	ctx := context.Background()

	dir := t.TempDir()
	writeDashcamSet(t, dir, "2024-03-09_18-20-41", "front", "back")
	source := scanFolder(t, svc, dir)

	jobs, err := repo.ListPendingJobs(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, j := range jobs {
		counts[j.Type]++
	}
	assert.Equal(t, 2, counts[JobTypeProbe])
	assert.Equal(t, 1, counts[JobTypeThumbnail])

	job, err := svc.ScanSource(ctx, source.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteScan(ctx, job.ID, source.ID, source.Path))

	jobs, err = repo.ListPendingJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3, "a rescan does not duplicate queued jobs")
}

func TestService_EnsureProbed(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	prober := &fakeProber{res: &ffmpeg.ProbeResult{Width: 1280, Height: 960, Duration: 60 * time.Second}}
	svc := NewService(repo, nil).WithProber(prober)
	ctx := context.Background()

	dir := t.TempDir()
	writeDashcamSet(t, dir, "2024-03-09_18-20-41", "front", "back", "left", "right")
	source := scanFolder(t, svc, dir)

	set, err := svc.LatestSet(ctx, source.ID)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureProbed(ctx, set))
	assert.Equal(t, 4, prober.calls)

	reloaded, err := svc.LatestSet(ctx, source.ID)
	require.NoError(t, err)
	for _, c := range reloaded.Clips {
		assert.Equal(t, 1280, c.Width, c.Camera)
		assert.Equal(t, 960, c.Height, c.Camera)
		assert.Equal(t, time.Minute, c.Duration(), c.Camera)
	}

	require.NoError(t, svc.EnsureProbed(ctx, reloaded))
	assert.Equal(t, 4, prober.calls, "probed clips are skipped")
}

func TestService_EnsureProbed_NoProber(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	set := &ClipSet{Clips: []*Clip{{ID: "x", Filename: "a.mp4"}}}
	assert.ErrorIs(t, NewService(repo, nil).EnsureProbed(context.Background(), set), ErrNoProber)
}
