package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// Protocol groups the layers and metrics of one field method.
type Protocol struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	MachineCode string         `json:"machine_code"`
	Version     string         `json:"version"`
	Status      string         `json:"status"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Layer is a protocol layer definition. FeatureClass names the event feature
// table its features live in; lookup layers have none.
type Layer struct {
	ID           int64   `json:"id"`
	ProtocolID   int64   `json:"protocol_id"`
	LayerID      string  `json:"layer_id"`
	Name         string  `json:"name"`
	FeatureClass string  `json:"feature_class"`
	GeomType     string  `json:"geom_type"`
	IsLookup     bool    `json:"is_lookup"`
	Description  *string `json:"description"`
}

func validProtocolStatus(s string) bool {
	switch s {
	case "active", "experimental", "deprecated":
		return true
	}
	return false
}

// CreateProtocol inserts a protocol.
func (db *DB) CreateProtocol(ctx context.Context, p *Protocol) error {
	return db.createProtocol(ctx, db, p)
}

func (db *DB) createProtocol(ctx context.Context, q Querier, p *Protocol) error {
	name, err := cleanName("create protocol", p.Name)
	if err != nil {
		return err
	}
	if p.MachineCode == "" {
		return errors.Newf(errors.KindValidation, "create protocol", "machine code is required")
	}
	if p.Status == "" {
		p.Status = "active"
	}
	if !validProtocolStatus(p.Status) {
		return errors.Newf(errors.KindValidation, "create protocol", "invalid status %q", p.Status)
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO protocols (name, machine_code, version, status, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, p.MachineCode, p.Version, p.Status, p.Description, md)
	if err != nil {
		return writeErr("create protocol", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	p.ID = id
	p.Name = name
	return nil
}

const protocolColumns = `id, name, machine_code, COALESCE(version, ''), status, description, metadata`

func scanProtocol(row interface{ Scan(...any) error }) (*Protocol, error) {
	var p Protocol
	var desc, md sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.MachineCode, &p.Version, &p.Status, &desc, &md); err != nil {
		return nil, err
	}
	p.Description = nullString(desc)
	if err := scanJSON(md, &p.Metadata); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProtocol retrieves a protocol by ID.
func (db *DB) GetProtocol(ctx context.Context, id int64) (*Protocol, error) {
	p, err := scanProtocol(db.QueryRowContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get protocol", "protocol", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get protocol: %w", err)
	}
	return p, nil
}

// ListProtocols returns every protocol ordered by ID.
func (db *DB) ListProtocols(ctx context.Context) ([]Protocol, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+protocolColumns+` FROM protocols ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocols: %w", err)
	}
	defer rows.Close()

	var out []Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan protocol: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProtocol updates a protocol's descriptive fields.
func (db *DB) UpdateProtocol(ctx context.Context, p *Protocol) error {
	name, err := cleanName("update protocol", p.Name)
	if err != nil {
		return err
	}
	if !validProtocolStatus(p.Status) {
		return errors.Newf(errors.KindValidation, "update protocol", "invalid status %q", p.Status)
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE protocols SET name = ?, machine_code = ?, version = ?, status = ?, description = ?, metadata = ?
		WHERE id = ?`,
		name, p.MachineCode, p.Version, p.Status, p.Description, md, p.ID)
	if err != nil {
		return writeErr("update protocol", err)
	}
	p.Name = name
	return checkAffected(res, "update protocol", "protocol", p.ID)
}

// DeleteProtocol deletes a protocol with its layers and metrics.
func (db *DB) DeleteProtocol(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM protocols WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete protocol", err)
	}
	return checkAffected(res, "delete protocol", "protocol", id)
}

// CreateLayer inserts a layer. FeatureClass is derived from GeomType.
func (db *DB) CreateLayer(ctx context.Context, l *Layer) error {
	return db.createLayer(ctx, db, l)
}

func (db *DB) createLayer(ctx context.Context, q Querier, l *Layer) error {
	name, err := cleanName("create layer", l.Name)
	if err != nil {
		return err
	}
	if l.LayerID == "" {
		return errors.Newf(errors.KindValidation, "create layer", "layer id is required")
	}
	if l.GeomType == "" {
		l.GeomType = string(geom.KindNone)
	}
	l.FeatureClass = FeatureClassFor(l.GeomType)
	res, err := q.ExecContext(ctx, `
		INSERT INTO layers (protocol_id, layer_id, name, feature_class, geom_type, is_lookup, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ProtocolID, l.LayerID, name, l.FeatureClass, l.GeomType, l.IsLookup, l.Description)
	if err != nil {
		return writeErr("create layer", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	l.ID = id
	l.Name = name
	return nil
}

const layerColumns = `id, protocol_id, layer_id, name, feature_class, geom_type, is_lookup, description`

func scanLayer(row interface{ Scan(...any) error }) (*Layer, error) {
	var l Layer
	var desc sql.NullString
	if err := row.Scan(&l.ID, &l.ProtocolID, &l.LayerID, &l.Name, &l.FeatureClass,
		&l.GeomType, &l.IsLookup, &desc); err != nil {
		return nil, err
	}
	l.Description = nullString(desc)
	return &l, nil
}

// GetLayer retrieves a layer by database ID.
func (db *DB) GetLayer(ctx context.Context, id int64) (*Layer, error) {
	l, err := scanLayer(db.QueryRowContext(ctx, `SELECT `+layerColumns+` FROM layers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get layer", "layer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layer: %w", err)
	}
	return l, nil
}

// FindLayer looks a layer up by its stable layer id within a protocol.
func (db *DB) FindLayer(ctx context.Context, protocolID int64, layerID string) (*Layer, error) {
	l, err := scanLayer(db.QueryRowContext(ctx,
		`SELECT `+layerColumns+` FROM layers WHERE protocol_id = ? AND layer_id = ?`, protocolID, layerID))
	if err == sql.ErrNoRows {
		return nil, notFound("find layer", "layer", layerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find layer: %w", err)
	}
	return l, nil
}

// ListLayers returns every layer ordered by ID.
func (db *DB) ListLayers(ctx context.Context) ([]Layer, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+layerColumns+` FROM layers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list layers: %w", err)
	}
	defer rows.Close()

	var out []Layer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateLayer updates a layer's name and description. Geometry type is fixed
// once features may exist.
func (db *DB) UpdateLayer(ctx context.Context, l *Layer) error {
	name, err := cleanName("update layer", l.Name)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE layers SET name = ?, is_lookup = ?, description = ? WHERE id = ?`,
		name, l.IsLookup, l.Description, l.ID)
	if err != nil {
		return writeErr("update layer", err)
	}
	l.Name = name
	return checkAffected(res, "update layer", "layer", l.ID)
}

// DeleteLayer deletes a layer. Fails with a schema error while event
// features still reference it.
func (db *DB) DeleteLayer(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM layers WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete layer", err)
	}
	return checkAffected(res, "delete layer", "layer", id)
}
