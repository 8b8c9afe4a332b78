package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/geom"
)

// Profile types, matching lkp_profile_types.
const (
	ProfileTypeCenterline int64 = 1
	ProfileTypeGeneric    int64 = 2
)

// Profile is a named line, usually a channel centerline.
type Profile struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	ProfileTypeID int64          `json:"profile_type_id"`
	Description   *string        `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ValleyBottom is a named polygon delineating the valley floor.
type ValleyBottom struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CreateProfile inserts a profile and its line geometry in one transaction.
func (db *DB) CreateProfile(ctx context.Context, p *Profile, g orb.Geometry) error {
	name, err := cleanName("create profile", p.Name)
	if err != nil {
		return err
	}
	mls, err := geom.AsMultiLineString(g)
	if err != nil {
		return errors.New(errors.KindValidation, "create profile", err)
	}
	if p.ProfileTypeID == 0 {
		p.ProfileTypeID = ProfileTypeCenterline
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (name, profile_type_id, description, metadata) VALUES (?, ?, ?, ?)`,
			name, p.ProfileTypeID, p.Description, md)
		if err != nil {
			return err
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		for _, ls := range mls {
			if _, err := insertFeature(ctx, tx, TableProfileCenterlines,
				map[string]any{"profile_id": p.ID}, ls); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return writeErr("create profile", err)
	}
	p.Name = name
	p.CreatedAt = time.Now()
	return nil
}

const profileColumns = `id, name, profile_type_id, description, metadata, created_at`

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var p Profile
	var desc, md sql.NullString
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.ProfileTypeID, &desc, &md, &createdAt); err != nil {
		return nil, err
	}
	p.Description = nullString(desc)
	if err := scanJSON(md, &p.Metadata); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// GetProfile retrieves a profile by ID.
func (db *DB) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	p, err := scanProfile(db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get profile", "profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile ordered by ID.
func (db *DB) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProfile updates a profile's name and description.
func (db *DB) UpdateProfile(ctx context.Context, p *Profile) error {
	name, err := cleanName("update profile", p.Name)
	if err != nil {
		return err
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE profiles SET name = ?, description = ?, metadata = ? WHERE id = ?`,
		name, p.Description, md, p.ID)
	if err != nil {
		return writeErr("update profile", err)
	}
	p.Name = name
	return checkAffected(res, "update profile", "profile", p.ID)
}

// DeleteProfile deletes a profile and its centerline features.
func (db *DB) DeleteProfile(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete profile", err)
	}
	return checkAffected(res, "delete profile", "profile", id)
}

// CreateValleyBottom inserts a valley bottom and its polygon in one transaction.
func (db *DB) CreateValleyBottom(ctx context.Context, vb *ValleyBottom, g orb.Geometry) error {
	name, err := cleanName("create valley bottom", vb.Name)
	if err != nil {
		return err
	}
	mp, err := geom.AsMultiPolygon(g)
	if err != nil {
		return errors.New(errors.KindValidation, "create valley bottom", err)
	}
	md, err := jsonText(vb.Metadata)
	if err != nil {
		return err
	}
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO valley_bottoms (name, description, metadata) VALUES (?, ?, ?)`,
			name, vb.Description, md)
		if err != nil {
			return err
		}
		if vb.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		_, err = insertFeature(ctx, tx, TableValleyBottoms, map[string]any{"valley_bottom_id": vb.ID}, mp)
		return err
	})
	if err != nil {
		return writeErr("create valley bottom", err)
	}
	vb.Name = name
	vb.CreatedAt = time.Now()
	return nil
}

const valleyBottomColumns = `id, name, description, metadata, created_at`

func scanValleyBottom(row interface{ Scan(...any) error }) (*ValleyBottom, error) {
	var vb ValleyBottom
	var desc, md sql.NullString
	var createdAt int64
	if err := row.Scan(&vb.ID, &vb.Name, &desc, &md, &createdAt); err != nil {
		return nil, err
	}
	vb.Description = nullString(desc)
	if err := scanJSON(md, &vb.Metadata); err != nil {
		return nil, err
	}
	vb.CreatedAt = time.Unix(createdAt, 0)
	return &vb, nil
}

// GetValleyBottom retrieves a valley bottom by ID.
func (db *DB) GetValleyBottom(ctx context.Context, id int64) (*ValleyBottom, error) {
	vb, err := scanValleyBottom(db.QueryRowContext(ctx,
		`SELECT `+valleyBottomColumns+` FROM valley_bottoms WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("get valley bottom", "valley bottom", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get valley bottom: %w", err)
	}
	return vb, nil
}

// ListValleyBottoms returns every valley bottom ordered by ID.
func (db *DB) ListValleyBottoms(ctx context.Context) ([]ValleyBottom, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+valleyBottomColumns+` FROM valley_bottoms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list valley bottoms: %w", err)
	}
	defer rows.Close()
	var out []ValleyBottom
	for rows.Next() {
		vb, err := scanValleyBottom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan valley bottom: %w", err)
		}
		out = append(out, *vb)
	}
	return out, rows.Err()
}

// UpdateValleyBottom updates a valley bottom's name and description.
func (db *DB) UpdateValleyBottom(ctx context.Context, vb *ValleyBottom) error {
	name, err := cleanName("update valley bottom", vb.Name)
	if err != nil {
		return err
	}
	md, err := jsonText(vb.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE valley_bottoms SET name = ?, description = ?, metadata = ? WHERE id = ?`,
		name, vb.Description, md, vb.ID)
	if err != nil {
		return writeErr("update valley bottom", err)
	}
	vb.Name = name
	return checkAffected(res, "update valley bottom", "valley bottom", vb.ID)
}

// DeleteValleyBottom deletes a valley bottom and its polygon.
func (db *DB) DeleteValleyBottom(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM valley_bottoms WHERE id = ?`, id)
	if err != nil {
		return writeErr("delete valley bottom", err)
	}
	return checkAffected(res, "delete valley bottom", "valley bottom", id)
}
