package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/jfinnert/bite-map/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

const (
	mysqlErrDupEntry = 1062
	mysqlErrFKFails  = 1452
)

func isDupEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDupEntry
}

func isFKFailure(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrFKFails
}

// Repo implements domain.PlaceRepository and domain.SourceRepository over
// MySQL. OnSourceChange, when set, is called after every committed source
// mutation; it is the only coupling to the aggregation engine.
type Repo struct {
	db *sql.DB

	OnSourceChange func(domain.SourceChange)
}

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) emit(ch domain.SourceChange) {
	if r.OnSourceChange != nil {
		r.OnSourceChange(ch)
	}
}

// ---- places ----

func (r *Repo) PutPlace(ctx context.Context, p domain.Place) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if p.ID == 0 {
		var id int64
		err := r.withRetry(ctx, func() error {
			res, err := r.db.ExecContext(ctx, insertPlaceSQL,
				p.Name, p.Slug,
				valStr(p.Address), valStr(p.City), valStr(p.State),
				valStr(p.Country), valStr(p.PostalCode),
				p.Lat, p.Lng,
			)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			return err
		})
		if isDupEntry(err) {
			return 0, fmt.Errorf("slug %q already taken: %w", p.Slug, domain.ErrConflict)
		}
		return id, err
	}

	// Update path: a single statement, so concurrent readers never observe
	// a partially-written record. Slug is stable once assigned.
	err := r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, updatePlaceSQL,
			p.Name,
			valStr(p.Address), valStr(p.City), valStr(p.State),
			valStr(p.Country), valStr(p.PostalCode),
			p.Lat, p.Lng,
			p.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Could also be a no-op update of identical values; existence
			// check disambiguates.
			var one int
			if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM places WHERE id = ?`, p.ID).Scan(&one); err == sql.ErrNoRows {
				return domain.ErrNotFound
			} else if err != nil {
				return err
			}
		}
		return nil
	})
	return p.ID, err
}

func scanPlace(row interface{ Scan(...any) error }) (domain.Place, error) {
	var p domain.Place
	var address, city, state, country, postal sql.NullString
	var updated sql.NullTime
	if err := row.Scan(
		&p.ID, &p.Name, &p.Slug,
		&address, &city, &state, &country, &postal,
		&p.Lat, &p.Lng,
		&p.CreatedAt, &updated,
	); err != nil {
		return domain.Place{}, err
	}
	p.Address = nullToPtr(address)
	p.City = nullToPtr(city)
	p.State = nullToPtr(state)
	p.Country = nullToPtr(country)
	p.PostalCode = nullToPtr(postal)
	if updated.Valid {
		t := updated.Time
		p.UpdatedAt = &t
	}
	return p, nil
}

func (r *Repo) GetPlace(ctx context.Context, id int64) (domain.Place, error) {
	var p domain.Place
	err := r.withRetry(ctx, func() error {
		var err error
		p, err = scanPlace(r.db.QueryRowContext(ctx, getPlaceSQL, id))
		return err
	})
	if err == sql.ErrNoRows {
		return domain.Place{}, domain.ErrNotFound
	}
	return p, err
}

func (r *Repo) GetPlaceBySlug(ctx context.Context, slug string) (domain.Place, error) {
	var p domain.Place
	err := r.withRetry(ctx, func() error {
		var err error
		p, err = scanPlace(r.db.QueryRowContext(ctx, getPlaceBySlugSQL, slug))
		return err
	})
	if err == sql.ErrNoRows {
		return domain.Place{}, domain.ErrNotFound
	}
	return p, err
}

func (r *Repo) ScanBBox(ctx context.Context, b domain.BBox) ([]domain.Place, error) {
	var out []domain.Place
	err := r.withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, scanBBoxSQL, b.South, b.North, b.West, b.East)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			p, err := scanPlace(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePlace removes a place. While sources still reference it the call
// fails with ErrConflict unless cascade is set, in which case the sources
// go first (inside the same transaction) and their deletes are notified.
func (r *Repo) DeletePlace(ctx context.Context, id int64, cascade bool) error {
	var changes []domain.SourceChange
	err := r.withRetry(ctx, func() error {
		changes = changes[:0]
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var n int64
		if err := tx.QueryRowContext(ctx, countPlaceSourcesSQL, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			if !cascade {
				return fmt.Errorf("place %d still has %d sources: %w", id, n, domain.ErrConflict)
			}
			rows, err := tx.QueryContext(ctx, listPlaceSourceStatusesSQL, id)
			if err != nil {
				return err
			}
			for rows.Next() {
				var st domain.SourceStatus
				if err := rows.Scan(&st); err != nil {
					rows.Close()
					return err
				}
				changes = append(changes, domain.SourceChange{PlaceID: id, Kind: domain.ChangeDelete, From: st})
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()
			if _, err := tx.ExecContext(ctx, deletePlaceSourcesSQL, id); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, deletePlaceSQL, id)
		if err != nil {
			return err
		}
		if rn, err := res.RowsAffected(); err != nil {
			return err
		} else if rn == 0 {
			return domain.ErrNotFound
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	for _, ch := range changes {
		r.emit(ch)
	}
	return nil
}

// ---- sources ----

func (r *Repo) PutSource(ctx context.Context, s domain.Source) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	var createdAt any
	if !s.CreatedAt.IsZero() {
		createdAt = s.CreatedAt
	}
	var id int64
	err := r.withRetry(ctx, func() error {
		res, err := r.db.ExecContext(ctx, insertSourceSQL,
			s.PlaceID, valStr(s.Title), valStr(s.ThumbnailURL),
			s.URL, string(s.Platform), string(s.Status), createdAt,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if isFKFailure(err) {
		return 0, domain.Invalidf("place %d does not exist", s.PlaceID)
	}
	if err != nil {
		return 0, err
	}
	r.emit(domain.SourceChange{PlaceID: s.PlaceID, Kind: domain.ChangeCreate, To: s.Status})
	return id, nil
}

func scanSource(row interface{ Scan(...any) error }) (domain.Source, error) {
	var s domain.Source
	var title, thumb sql.NullString
	var platform, status string
	if err := row.Scan(
		&s.ID, &s.PlaceID, &title, &thumb, &s.URL, &platform, &status, &s.CreatedAt,
	); err != nil {
		return domain.Source{}, err
	}
	s.Title = nullToPtr(title)
	s.ThumbnailURL = nullToPtr(thumb)
	s.Platform = domain.Platform(platform)
	s.Status = domain.SourceStatus(status)
	return s, nil
}

func (r *Repo) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	var s domain.Source
	err := r.withRetry(ctx, func() error {
		var err error
		s, err = scanSource(r.db.QueryRowContext(ctx, getSourceSQL, id))
		return err
	})
	if err == sql.ErrNoRows {
		return domain.Source{}, domain.ErrNotFound
	}
	return s, err
}

func (r *Repo) ListSourcesByPlace(ctx context.Context, placeID int64) ([]domain.Source, error) {
	var out []domain.Source
	err := r.withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, listSourcesByPlaceSQL, placeID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			s, err := scanSource(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSourceStatus enforces the lifecycle: the current row is locked,
// the transition validated, then written, so two racing updates cannot
// both move the same source.
func (r *Repo) UpdateSourceStatus(ctx context.Context, id int64, to domain.SourceStatus) error {
	if !to.Known() {
		return domain.Invalidf("unknown status %q", to)
	}
	var ch domain.SourceChange
	err := r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var placeID int64
		var cur domain.SourceStatus
		if err := tx.QueryRowContext(ctx, lockSourceSQL, id).Scan(&placeID, &cur); err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		if cur == to {
			return tx.Commit() // no-op; nothing to notify
		}
		if !cur.CanTransition(to) {
			return domain.Invalidf("status %s cannot transition to %s", cur, to)
		}
		if _, err := tx.ExecContext(ctx, updateSourceStatusSQL, string(to), id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		ch = domain.SourceChange{PlaceID: placeID, Kind: domain.ChangeStatus, From: cur, To: to}
		return nil
	})
	if err != nil {
		return err
	}
	if ch.PlaceID != 0 {
		r.emit(ch)
	}
	return nil
}

func (r *Repo) DeleteSource(ctx context.Context, id int64) error {
	var ch domain.SourceChange
	err := r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var placeID int64
		var cur domain.SourceStatus
		if err := tx.QueryRowContext(ctx, lockSourceSQL, id).Scan(&placeID, &cur); err != nil {
			if err == sql.ErrNoRows {
				return domain.ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteSourceSQL, id); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		ch = domain.SourceChange{PlaceID: placeID, Kind: domain.ChangeDelete, From: cur}
		return nil
	})
	if err != nil {
		return err
	}
	if ch.PlaceID != 0 {
		r.emit(ch)
	}
	return nil
}

func (r *Repo) CountSourcesByStatus(ctx context.Context, placeID int64, statuses []domain.SourceStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(statuses)+1)
	args = append(args, placeID)
	ph := make([]string, len(statuses))
	for i, s := range statuses {
		ph[i] = "?"
		args = append(args, string(s))
	}
	q := `SELECT COUNT(*) FROM sources WHERE place_id = ? AND status IN (` + strings.Join(ph, ",") + `)`

	var n int64
	err := r.withRetry(ctx, func() error {
		return r.db.QueryRowContext(ctx, q, args...).Scan(&n)
	})
	return n, err
}
