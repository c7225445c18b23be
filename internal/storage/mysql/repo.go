package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"ota_sync/internal/domain"
)

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func valBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
func valDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(domain.DateLayout)
}

// isDuplicate reports a unique-key violation (ER_DUP_ENTRY).
func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// inTx runs fn in a transaction and commits when it returns nil.
func (r *Repo) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(s rowScanner) (domain.ChannelConfig, error) {
	var (
		c        domain.ChannelConfig
		pms, url sql.NullString
		lastSync sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.PropertyID, &c.ExternalHotelCode, &pms, &url,
		&c.IsActive, &c.IsSandbox, &lastSync, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ChannelConfig{}, domain.ErrNotFound
		}
		return domain.ChannelConfig{}, err
	}
	c.ExternalPMSIdentifier = pms.String
	c.APIBaseURL = url.String
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		c.LastSyncAt = &t
	}
	return c, nil
}

func (r *Repo) UpsertConfig(ctx context.Context, propertyID int64, in domain.ConfigInput) (domain.ChannelConfig, error) {
	err := r.inTx(ctx, nil, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, lockConfigByPropertySQL, propertyID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, insertConfigSQL,
				propertyID, in.HotelCode, valStr(in.PMSIdentifier), valStr(in.APIBaseURL),
				valBool(in.IsActive), in.IsSandbox)
		case err == nil:
			_, err = tx.ExecContext(ctx, updateConfigSQL,
				in.HotelCode, valStr(in.PMSIdentifier), valStr(in.APIBaseURL),
				valBool(in.IsActive), in.IsSandbox, id)
		}
		return err
	})
	if isDuplicate(err) {
		return domain.ChannelConfig{}, domain.NewValidationError("hotelCode", fmt.Sprintf("%q is already used by another property", in.HotelCode))
	}
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	return r.GetConfig(ctx, propertyID)
}

func (r *Repo) TouchLastSync(ctx context.Context, configID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, touchLastSyncSQL, at.UTC(), configID)
	return err
}

func (r *Repo) GetConfig(ctx context.Context, propertyID int64) (domain.ChannelConfig, error) {
	return scanConfig(r.db.QueryRowContext(ctx, getConfigByPropertySQL, propertyID))
}

func (r *Repo) GetConfigByID(ctx context.Context, configID int64) (domain.ChannelConfig, error) {
	return scanConfig(r.db.QueryRowContext(ctx, getConfigByIDSQL, configID))
}

func (r *Repo) GetConfigByHotelCode(ctx context.Context, hotelCode string) (domain.ChannelConfig, error) {
	return scanConfig(r.db.QueryRowContext(ctx, getConfigByHotelCodeSQL, hotelCode))
}

func (r *Repo) ListActiveConfigs(ctx context.Context) ([]domain.ChannelConfig, error) {
	rows, err := r.db.QueryContext(ctx, listActiveConfigsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChannelConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceRoomMappings swaps the whole mapping set in one transaction. Rows
// are matched on internal room type so their IDs, and the rate plans hanging
// off them, survive the replace.
func (r *Repo) ReplaceRoomMappings(ctx context.Context, configID int64, rooms []domain.RoomMappingInput) error {
	err := r.inTx(ctx, nil, func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, lockConfigSQL, configID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}

		existing := map[string]int64{}
		var order []string
		rows, err := tx.QueryContext(ctx, lockRoomMappingsSQL, configID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				rid  int64
				name string
			)
			if err := rows.Scan(&rid, &name); err != nil {
				rows.Close()
				return err
			}
			existing[name] = rid
			order = append(order, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		keep := make(map[string]struct{}, len(rooms))
		for _, rm := range rooms {
			keep[rm.InternalRoomType] = struct{}{}
		}
		for _, name := range order {
			if _, ok := keep[name]; !ok {
				if _, err := tx.ExecContext(ctx, deleteRoomMappingSQL, existing[name]); err != nil {
					return err
				}
			}
		}
		if _, err := tx.ExecContext(ctx, parkRoomCodesSQL, configID); err != nil {
			return err
		}
		for pos, rm := range rooms {
			if rid, ok := existing[rm.InternalRoomType]; ok {
				_, err = tx.ExecContext(ctx, updateRoomMappingSQL, rm.ExternalRoomCode, pos, rid)
			} else {
				_, err = tx.ExecContext(ctx, insertRoomMappingSQL, configID, rm.InternalRoomType, rm.ExternalRoomCode, pos)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if isDuplicate(err) {
		return domain.NewValidationError("rooms", "room types and external codes must be unique")
	}
	return err
}

func (r *Repo) ReplaceRatePlans(ctx context.Context, roomMappingID int64, plans []domain.RatePlanInput) error {
	err := r.inTx(ctx, nil, func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, lockRoomMappingSQL, roomMappingID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteRatePlansSQL, roomMappingID); err != nil {
			return err
		}
		for pos, p := range plans {
			if _, err := tx.ExecContext(ctx, insertRatePlanSQL,
				roomMappingID, p.Name, p.Code, p.BaseRate, p.Occupancy, pos); err != nil {
				return err
			}
		}
		return nil
	})
	if isDuplicate(err) {
		return domain.NewValidationError("code", "rate plan codes must be unique per room")
	}
	return err
}

func (r *Repo) GetRoomMapping(ctx context.Context, roomMappingID int64) (domain.RoomMapping, error) {
	var rm domain.RoomMapping
	err := r.db.QueryRowContext(ctx, getRoomMappingSQL, roomMappingID).
		Scan(&rm.ID, &rm.ConfigID, &rm.InternalRoomType, &rm.ExternalRoomCode, &rm.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoomMapping{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RoomMapping{}, err
	}

	rows, err := r.db.QueryContext(ctx, listRatePlansByRoomSQL, roomMappingID)
	if err != nil {
		return domain.RoomMapping{}, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanRatePlan(rows)
		if err != nil {
			return domain.RoomMapping{}, err
		}
		rm.RatePlans = append(rm.RatePlans, p)
	}
	return rm, rows.Err()
}

func scanRatePlan(s rowScanner) (domain.RatePlanMapping, error) {
	var p domain.RatePlanMapping
	err := s.Scan(&p.ID, &p.RoomMappingID, &p.Name, &p.Code, &p.BaseRate, &p.Occupancy, &p.Position)
	return p, err
}

// LoadSnapshot reads config, rooms and plans inside one read-only
// transaction so the three queries see the same state.
func (r *Repo) LoadSnapshot(ctx context.Context, propertyID int64) (domain.MappingSnapshot, error) {
	var snap domain.MappingSnapshot
	err := r.inTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}, func(tx *sql.Tx) error {
		cfg, err := scanConfig(tx.QueryRowContext(ctx, getConfigByPropertySQL, propertyID))
		if err != nil {
			return err
		}
		snap.Config = cfg

		rows, err := tx.QueryContext(ctx, listRoomMappingsSQL, cfg.ID)
		if err != nil {
			return err
		}
		index := map[int64]int{}
		for rows.Next() {
			var rm domain.RoomMapping
			if err := rows.Scan(&rm.ID, &rm.ConfigID, &rm.InternalRoomType, &rm.ExternalRoomCode, &rm.Position); err != nil {
				rows.Close()
				return err
			}
			index[rm.ID] = len(snap.Rooms)
			snap.Rooms = append(snap.Rooms, rm)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		prow, err := tx.QueryContext(ctx, listRatePlansByConfigSQL, cfg.ID)
		if err != nil {
			return err
		}
		defer prow.Close()
		for prow.Next() {
			p, err := scanRatePlan(prow)
			if err != nil {
				return err
			}
			if i, ok := index[p.RoomMappingID]; ok {
				snap.Rooms[i].RatePlans = append(snap.Rooms[i].RatePlans, p)
			}
		}
		return prow.Err()
	})
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	return snap, nil
}
