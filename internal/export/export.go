// Package export writes a riverscapes project for one event: a pruned copy
// of the project database, the event basemaps and an XML manifest.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/riverscapes/qris/internal/db"
	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/fsutil"
	"github.com/riverscapes/qris/internal/monitoring"
	"github.com/riverscapes/qris/internal/security"
	"github.com/riverscapes/qris/internal/timeutil"
)

var logf = monitoring.Component("export")

const (
	// DatabaseName is the file name of the exported database.
	DatabaseName = "qris.gpkg"
	// ManifestName is the file name of the project manifest.
	ManifestName = "project.rs.xml"
	basemapDir   = "basemaps"
)

// Options controls an export.
type Options struct {
	// Dir is the output directory. It must not contain a previous export.
	Dir string
	// EventID is the event kept in the exported database.
	EventID int64
	// ProjectDir resolves relative raster paths.
	ProjectDir string
	FS         fsutil.FileSystem
	Clock      timeutil.Clock
}

// Result describes what was written.
type Result struct {
	Dir          string
	DatabasePath string
	ManifestPath string
	Basemaps     []string
	Layers       []string
}

// Export writes the project for opts.EventID into opts.Dir. The source
// database is only read; pruning happens on the copy.
func Export(ctx context.Context, src *db.DB, opts Options) (*Result, error) {
	const op = "export project"
	if opts.Dir == "" {
		return nil, errors.Newf(errors.KindValidation, op, "output directory is required")
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	proj, err := src.GetProject(ctx)
	if err != nil {
		return nil, err
	}
	event, err := src.GetEvent(ctx, opts.EventID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Dir:          opts.Dir,
		DatabasePath: filepath.Join(opts.Dir, DatabaseName),
		ManifestPath: filepath.Join(opts.Dir, ManifestName),
	}
	if opts.FS.Exists(res.ManifestPath) {
		return nil, errors.Newf(errors.KindIO, op, "%s already contains an export", opts.Dir)
	}
	if err := opts.FS.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}

	logf("exporting event %d of %q to %s", event.ID, proj.Name, opts.Dir)
	if err := src.Backup(ctx, res.DatabasePath); err != nil {
		return nil, err
	}
	layers, err := prune(ctx, res.DatabasePath, event.ID)
	if err != nil {
		return nil, err
	}

	m := newManifest(proj, event, opts.Clock.Now())
	for _, l := range layers {
		res.Layers = append(res.Layers, l.Name)
		m.addLayer(l)
	}
	for _, id := range event.BasemapIDs {
		r, err := src.GetRaster(ctx, id)
		if err != nil {
			return nil, err
		}
		rel, err := copyBasemap(opts, r)
		if err != nil {
			return nil, err
		}
		res.Basemaps = append(res.Basemaps, rel)
		m.addBasemap(r, rel)
	}

	data, err := m.encode()
	if err != nil {
		return nil, err
	}
	if err := opts.FS.WriteFile(res.ManifestPath, data, 0o644); err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}
	logf("export of event %d complete: %d layers, %d basemaps", event.ID, len(res.Layers), len(res.Basemaps))
	return res, nil
}

// prune removes every other event from the copy, along with their features,
// metric values and joins through cascading deletes, then returns the layers
// captured by the kept event.
func prune(ctx context.Context, dbPath string, eventID int64) ([]db.Layer, error) {
	const op = "prune export"
	d, err := db.OpenDB(dbPath)
	if err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}
	defer d.Close()

	err = d.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id <> ?`, eventID); err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM analysis_runs`)
		return err
	})
	if err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}
	if _, err := d.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, errors.New(errors.KindIO, op, err)
	}

	var layers []db.Layer
	rows, err := d.QueryContext(ctx, `
		SELECT l.id, l.protocol_id, l.layer_id, l.name, l.feature_class, l.geom_type
		FROM event_layers el JOIN layers l ON l.id = el.layer_id
		WHERE el.event_id = ? ORDER BY l.id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exported layers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l db.Layer
		if err := rows.Scan(&l.ID, &l.ProtocolID, &l.LayerID, &l.Name, &l.FeatureClass, &l.GeomType); err != nil {
			return nil, fmt.Errorf("failed to scan exported layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// copyBasemap copies a raster into the basemaps folder and returns its path
// relative to the export directory. A TIFF world file travels with it.
func copyBasemap(opts Options, r *db.Raster) (string, error) {
	srcPath := r.AbsPath(opts.ProjectDir)
	if !filepath.IsAbs(r.Path) {
		if err := security.WithinDir(srcPath, opts.ProjectDir); err != nil {
			return "", errors.New(errors.KindValidation, "copy basemap", err).With("raster", r.ID)
		}
	}
	name := security.SanitizeFilename(filepath.Base(srcPath))
	rel := path.Join(basemapDir, fmt.Sprintf("%d_%s", r.ID, name))
	dest := filepath.Join(opts.Dir, filepath.FromSlash(rel))
	if err := opts.FS.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.New(errors.KindIO, "copy basemap", err)
	}
	if err := fsutil.CopyFile(opts.FS, srcPath, dest); err != nil {
		return "", errors.New(errors.KindIO, "copy basemap", err).With("path", srcPath)
	}

	ext := strings.ToLower(filepath.Ext(srcPath))
	if ext == ".tif" || ext == ".tiff" {
		world := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".tfw"
		if opts.FS.Exists(world) {
			if err := fsutil.CopyFile(opts.FS, world, strings.TrimSuffix(dest, filepath.Ext(dest))+".tfw"); err != nil {
				return "", errors.New(errors.KindIO, "copy basemap", err).With("path", world)
			}
		}
	}
	return rel, nil
}
