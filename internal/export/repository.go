package export

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Repository persists export history.
type Repository interface {
	SaveExport(ctx context.Context, st Status) error
	GetExport(ctx context.Context, id string) (*Status, error)
	ListExports(ctx context.Context, limit int) ([]*Status, error)
	DeleteExport(ctx context.Context, id string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const exportColumns = `id, format, strategy, stop_policy, pane_count, cameras, state, frames,
	artifact_name, artifact_path, mime_type, size, width, height, error_kind, error, created_at, updated_at`

// SaveExport inserts or updates the row for st.ID.
func (r *SQLiteRepository) SaveExport(ctx context.Context, st Status) error {
	var name, path, mime sql.NullString
	var size int64
	if a := st.Artifact; a != nil {
		name = sql.NullString{String: a.Name, Valid: true}
		path = sql.NullString{String: a.Path, Valid: true}
		mime = sql.NullString{String: a.MIMEType, Valid: true}
		size = a.Size
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			frames = excluded.frames,
			artifact_name = excluded.artifact_name,
			artifact_path = excluded.artifact_path,
			mime_type = excluded.mime_type,
			size = excluded.size,
			width = excluded.width,
			height = excluded.height,
			error_kind = excluded.error_kind,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, st.ID, string(st.Format), st.Strategy, st.StopPolicy, st.PaneCount, strings.Join(st.Cameras, ","),
		string(st.State), st.FramesDone, name, path, mime, size, st.Width, st.Height,
		nullString(string(st.ErrorKind)), nullString(st.Error),
		st.CreatedAt.Format(time.RFC3339), st.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Status, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	st, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Status, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Status
	for rows.Next() {
		st, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteExport(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM exports WHERE id = ?`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(row scanner) (*Status, error) {
	var st Status
	var format, state, cameras, createdAt, updatedAt string
	var name, path, mime, errKind, errMsg sql.NullString
	var size int64

	if err := row.Scan(&st.ID, &format, &st.Strategy, &st.StopPolicy, &st.PaneCount, &cameras, &state,
		&st.FramesDone, &name, &path, &mime, &size, &st.Width, &st.Height, &errKind, &errMsg,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	st.Format = FormatTag(format)
	st.State = State(state)
	if cameras != "" {
		st.Cameras = strings.Split(cameras, ",")
	}
	if name.Valid {
		st.Artifact = &Artifact{
			Name:     name.String,
			Path:     path.String,
			MIMEType: mime.String,
			Size:     size,
			Width:    st.Width,
			Height:   st.Height,
			Frames:   st.FramesDone,
		}
	}
	st.ErrorKind = Kind(errKind.String)
	st.Error = errMsg.String
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if st.State.Terminal() {
		t := st.UpdatedAt
		st.FinishedAt = &t
	}
	return &st, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
