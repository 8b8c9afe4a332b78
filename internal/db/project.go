package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverscapes/qris/internal/errors"
)

// Project is the single root row of a project database.
type Project struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CreateProject writes the project row. A database holds one project.
func (db *DB) CreateProject(ctx context.Context, p *Project) error {
	name, err := cleanName("create project", p.Name)
	if err != nil {
		return err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project`).Scan(&n); err != nil {
		return fmt.Errorf("failed to check project: %w", err)
	}
	if n > 0 {
		return errors.Newf(errors.KindDuplicateName, "create project", "database already holds a project")
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO project (name, description, metadata) VALUES (?, ?, ?)`,
		name, p.Description, md)
	if err != nil {
		return writeErr("create project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	p.ID = id
	p.Name = name
	p.CreatedAt = time.Now()
	return nil
}

// GetProject returns the project row.
func (db *DB) GetProject(ctx context.Context) (*Project, error) {
	var p Project
	var desc, md sql.NullString
	var createdAt int64
	err := db.QueryRowContext(ctx,
		`SELECT id, name, description, metadata, created_at FROM project ORDER BY id LIMIT 1`).
		Scan(&p.ID, &p.Name, &desc, &md, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "get project", "database holds no project")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.Description = nullString(desc)
	if err := scanJSON(md, &p.Metadata); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// UpdateProject updates the project name, description and metadata.
func (db *DB) UpdateProject(ctx context.Context, p *Project) error {
	name, err := cleanName("update project", p.Name)
	if err != nil {
		return err
	}
	md, err := jsonText(p.Metadata)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE project SET name = ?, description = ?, metadata = ? WHERE id = ?`,
		name, p.Description, md, p.ID)
	if err != nil {
		return writeErr("update project", err)
	}
	p.Name = name
	return checkAffected(res, "update project", "project", p.ID)
}
