package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sqanalyze/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertExport(ctx context.Context, e domain.Export) error {
	var recordCount any
	if e.RecordCount != nil {
		recordCount = *e.RecordCount
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO exports(id,created_at,format,start_time,end_time,owner_id,assigned_to,tags,statuses,path,bytes,record_count,header_mismatch)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.CreatedAt, e.Format, e.StartTime, e.EndTime,
		nullable(e.OwnerID), nullable(e.AssignedTo), nullable(e.Tags),
		strings.Join(e.Statuses, ","), e.Path, e.Bytes, recordCount, boolToInt(e.HeaderMismatch))
	return err
}

func (r Repo) GetExport(ctx context.Context, id string) (domain.Export, error) {
	row := r.DB.QueryRowContext(ctx, selectExports+` WHERE id=?`, id)
	return scanExport(row.Scan)
}

func (r Repo) ListExports(ctx context.Context) ([]domain.Export, error) {
	rows, err := r.DB.QueryContext(ctx, selectExports+` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Export
	for rows.Next() {
		e, err := scanExport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteExport(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM exports WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectExports = `SELECT id,created_at,format,start_time,end_time,
COALESCE(owner_id,'') AS owner_id,COALESCE(assigned_to,'') AS assigned_to,COALESCE(tags,'') AS tags,
statuses,path,bytes,record_count,header_mismatch FROM exports`

func scanExport(scan func(...any) error) (domain.Export, error) {
	var e domain.Export
	var statuses string
	var recordCount sql.NullInt64
	var mismatch int
	err := scan(&e.ID, &e.CreatedAt, &e.Format, &e.StartTime, &e.EndTime,
		&e.OwnerID, &e.AssignedTo, &e.Tags, &statuses, &e.Path, &e.Bytes, &recordCount, &mismatch)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if statuses != "" {
		e.Statuses = strings.Split(statuses, ",")
	}
	if recordCount.Valid {
		n := int(recordCount.Int64)
		e.RecordCount = &n
	}
	e.HeaderMismatch = mismatch != 0
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
