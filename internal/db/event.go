package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/riverscapes/qris/internal/errors"
)

// DateSpec is a partial calendar date. Any component may be unset as long as
// a day implies a month and a month implies a year.
type DateSpec struct {
	Year  *int `json:"year"`
	Month *int `json:"month"`
	Day   *int `json:"day"`
}

// Validate checks the ladder rule and that a full date exists on the calendar.
func (d DateSpec) Validate() error {
	const op = "validate date"
	if d.Day != nil && d.Month == nil {
		return errors.Newf(errors.KindInvalidDate, op, "day requires a month")
	}
	if d.Month != nil && d.Year == nil {
		return errors.Newf(errors.KindInvalidDate, op, "month requires a year")
	}
	if d.Month != nil && (*d.Month < 1 || *d.Month > 12) {
		return errors.Newf(errors.KindInvalidDate, op, "month %d out of range", *d.Month)
	}
	if d.Day != nil {
		t := time.Date(*d.Year, time.Month(*d.Month), *d.Day, 0, 0, 0, 0, time.UTC)
		if *d.Day < 1 || t.Day() != *d.Day || t.Month() != time.Month(*d.Month) {
			return errors.Newf(errors.KindInvalidDate, op, "%04d-%02d-%02d is not a calendar date", *d.Year, *d.Month, *d.Day)
		}
	}
	return nil
}

// IsZero reports whether no component is set.
func (d DateSpec) IsZero() bool {
	return d.Year == nil && d.Month == nil && d.Day == nil
}

// String renders YYYY-MM-DD, omitting unset trailing parts.
func (d DateSpec) String() string {
	var parts []string
	if d.Year != nil {
		parts = append(parts, fmt.Sprintf("%04d", *d.Year))
	}
	if d.Month != nil {
		parts = append(parts, fmt.Sprintf("%02d", *d.Month))
	}
	if d.Day != nil {
		parts = append(parts, fmt.Sprintf("%02d", *d.Day))
	}
	return strings.Join(parts, "-")
}

// Event is a data capture event.
type Event struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	EventTypeID int64          `json:"event_type_id"`
	PlatformID  int64          `json:"platform_id"`
	Start       DateSpec       `json:"start"`
	End         DateSpec       `json:"end"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	// LayerIDs are database layer IDs captured on this event.
	LayerIDs []int64 `json:"layer_ids"`
	// BasemapIDs are raster IDs required by this event.
	BasemapIDs []int64   `json:"basemap_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventLayer joins an event to a layer.
type EventLayer struct {
	ID      int64 `json:"id"`
	EventID int64 `json:"event_id"`
	LayerID int64 `json:"layer_id"`
}

func (e *Event) validate(op string) error {
	name, err := cleanName(op, e.Name)
	if err != nil {
		return err
	}
	e.Name = name
	if err := e.Start.Validate(); err != nil {
		return err
	}
	if err := e.End.Validate(); err != nil {
		return err
	}
	if e.EventTypeID == 0 {
		e.EventTypeID = 1
	}
	if e.PlatformID == 0 {
		e.PlatformID = 1
	}
	return nil
}

// CreateEvent inserts an event with its layers and basemaps in one transaction.
func (db *DB) CreateEvent(ctx context.Context, e *Event) error {
	if err := e.validate("create event"); err != nil {
		return err
	}
	md, err := jsonText(e.Metadata)
	if err != nil {
		return err
	}
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				name, description, event_type_id, platform_id,
				start_year, start_month, start_day, end_year, end_month, end_day, metadata
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Name, e.Description, e.EventTypeID, e.PlatformID,
			e.Start.Year, e.Start.Month, e.Start.Day, e.End.Year, e.End.Month, e.End.Day, md)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		e.ID = id
		return syncEventChildren(ctx, tx, e)
	})
	if err != nil {
		return writeErr("create event", err)
	}
	e.CreatedAt = time.Now()
	return nil
}

// syncEventChildren makes event_layers and event_basemaps match the event.
func syncEventChildren(ctx context.Context, tx *sql.Tx, e *Event) error {
	if err := syncJoin(ctx, tx, "event_layers", "layer_id", e.ID, e.LayerIDs); err != nil {
		return err
	}
	return syncJoin(ctx, tx, "event_basemaps", "raster_id", e.ID, e.BasemapIDs)
}

func syncJoin(ctx context.Context, tx *sql.Tx, table, col string, eventID int64, ids []int64) error {
	keep := make(map[int64]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE event_id = ?`, col, table), eventID)
	if err != nil {
		return err
	}
	existing := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for id := range existing {
		if !keep[id] {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE event_id = ? AND %s = ?`, table, col), eventID, id); err != nil {
				return err
			}
		}
	}
	for _, id := range ids {
		if existing[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (event_id, %s) VALUES (?, ?)`, table, col), eventID, id); err != nil {
			return err
		}
		existing[id] = true
	}
	return nil
}

const eventColumns = `
	id, name, description, event_type_id, platform_id,
	start_year, start_month, start_day, end_year, end_month, end_day, metadata, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var desc, md sql.NullString
	var sy, sm, sd, ey, em, ed sql.NullInt64
	var createdAt int64
	if err := row.Scan(&e.ID, &e.Name, &desc, &e.EventTypeID, &e.PlatformID,
		&sy, &sm, &sd, &ey, &em, &ed, &md, &createdAt); err != nil {
		return nil, err
	}
	e.Description = nullString(desc)
	e.Start = DateSpec{Year: nullInt(sy), Month: nullInt(sm), Day: nullInt(sd)}
	e.End = DateSpec{Year: nullInt(ey), Month: nullInt(em), Day: nullInt(ed)}
	if err := scanJSON(md, &e.Metadata); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	return &e, nil
}

func (db *DB) loadEventChildren(ctx context.Context, e *Event) error {
	var err error
	e.LayerIDs, err = db.joinIDs(ctx, `SELECT layer_id FROM event_layers WHERE event_id = ? ORDER BY layer_id`, e.ID)
	if err != nil {
		return err
	}
	e.BasemapIDs, err = db.joinIDs(ctx, `SELECT raster_id FROM event_basemaps WHERE event_id = ? ORDER BY raster_id`, e.ID)
	return err
}

func (db *DB) joinIDs(ctx context.Context, query string, id int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetEvent retrieves an event with its layer and basemap IDs.
func (db *DB) GetEvent(ctx context.Context, id int64) (*Event, error) {
	e, err := scanEvent(db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get event", "event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if err := db.loadEventChildren(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEvents returns every event ordered by ID.
func (db *DB) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, *e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := db.loadEventChildren(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateEvent updates an event and resyncs its layers and basemaps.
// Features of a removed layer stay in the feature tables until the event is
// deleted.
func (db *DB) UpdateEvent(ctx context.Context, e *Event) error {
	if err := e.validate("update event"); err != nil {
		return err
	}
	md, err := jsonText(e.Metadata)
	if err != nil {
		return err
	}
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE events SET
				name = ?, description = ?, event_type_id = ?, platform_id = ?,
				start_year = ?, start_month = ?, start_day = ?,
				end_year = ?, end_month = ?, end_day = ?, metadata = ?
			WHERE id = ?`,
			e.Name, e.Description, e.EventTypeID, e.PlatformID,
			e.Start.Year, e.Start.Month, e.Start.Day, e.End.Year, e.End.Month, e.End.Day, md, e.ID)
		if err != nil {
			return err
		}
		if err := checkAffected(res, "update event", "event", e.ID); err != nil {
			return err
		}
		return syncEventChildren(ctx, tx, e)
	})
	if err != nil {
		return writeErr("update event", err)
	}
	return nil
}

// DeleteEvent deletes an event. Its event layers, basemap links, features and
// metric values cascade.
func (db *DB) DeleteEvent(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete event", err)
	}
	return checkAffected(res, "delete event", "event", id)
}

// ListEventLayers returns the event layer rows of one event.
func (db *DB) ListEventLayers(ctx context.Context, eventID int64) ([]EventLayer, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, event_id, layer_id FROM event_layers WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list event layers: %w", err)
	}
	defer rows.Close()
	var out []EventLayer
	for rows.Next() {
		var el EventLayer
		if err := rows.Scan(&el.ID, &el.EventID, &el.LayerID); err != nil {
			return nil, fmt.Errorf("failed to scan event layer: %w", err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}
