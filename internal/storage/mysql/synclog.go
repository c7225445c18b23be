package mysql

import (
	"context"
	"database/sql"
	"strings"

	"ota_sync/internal/domain"
)

func (r *Repo) Append(ctx context.Context, e domain.SyncLogEntry) (domain.SyncLogEntry, error) {
	res, err := r.db.ExecContext(ctx, insertSyncLogSQL,
		valInt64(e.PropertyID),
		valInt64(e.ConfigID),
		string(e.SyncType),
		string(e.Direction),
		string(e.Status),
		e.ExternalRef,
		valJSON(e.RequestPayload),
		valJSON(e.ResponsePayload),
		valStr(e.ErrorMessage),
		e.NeedsReview,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

// Query pages newest-first with an id cursor. One extra row is fetched to
// decide whether a next page exists.
func (r *Repo) Query(ctx context.Context, propertyID int64, f domain.LogFilter) (domain.LogPage, error) {
	var sb strings.Builder
	sb.WriteString(querySyncLogsPrefix)
	args := []any{propertyID}
	if f.SyncType != "" {
		sb.WriteString(" AND sync_type = ?")
		args = append(args, string(f.SyncType))
	}
	if f.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, string(f.Status))
	}
	if f.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Cursor != nil {
		sb.WriteString(" AND id < ?")
		args = append(args, *f.Cursor)
	}
	sb.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, f.Limit+1)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return domain.LogPage{}, err
	}
	defer rows.Close()

	var out []domain.SyncLogEntry
	for rows.Next() {
		var (
			e                domain.SyncLogEntry
			pid, cid         sql.NullInt64
			reqRaw, respRaw  sql.RawBytes
			errMsg           sql.NullString
			syncType, dir, s string
		)
		if err := rows.Scan(&e.ID, &pid, &cid, &syncType, &dir, &s, &e.ExternalRef,
			&reqRaw, &respRaw, &errMsg, &e.NeedsReview, &e.CreatedAt); err != nil {
			return domain.LogPage{}, err
		}
		if pid.Valid {
			v := pid.Int64
			e.PropertyID = &v
		}
		if cid.Valid {
			v := cid.Int64
			e.ConfigID = &v
		}
		e.SyncType = domain.SyncType(syncType)
		e.Direction = domain.Direction(dir)
		e.Status = domain.SyncStatus(s)
		if len(reqRaw) > 0 {
			e.RequestPayload = append([]byte(nil), reqRaw...)
		}
		if len(respRaw) > 0 {
			e.ResponsePayload = append([]byte(nil), respRaw...)
		}
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return domain.LogPage{}, err
	}

	page := domain.LogPage{Items: out}
	if len(out) > f.Limit {
		page.Items = out[:f.Limit]
		next := page.Items[f.Limit-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

func (r *Repo) HasStatus(ctx context.Context, configID int64, t domain.SyncType, externalRef string, status domain.SyncStatus) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, hasSyncStatusSQL, configID, string(t), externalRef, string(status)).Scan(&ok)
	return ok, err
}
