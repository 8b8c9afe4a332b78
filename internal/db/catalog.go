package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverscapes/qris/internal/metricdef"
)

// SeedResult counts the catalog rows written by SeedCatalog.
type SeedResult struct {
	Protocols int
	Layers    int
	Metrics   int
}

// SeedCatalog writes catalog protocols with their layers and metrics in one
// transaction. Rows that already exist (by machine code, layer id or machine
// name) are updated in place so seeding is repeatable.
func (db *DB) SeedCatalog(ctx context.Context, protocols []metricdef.Protocol) (SeedResult, error) {
	var res SeedResult
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, cp := range protocols {
			p := &Protocol{
				Name:        cp.Name,
				MachineCode: cp.MachineCode,
				Version:     cp.Version,
				Status:      cp.Status,
				Description: optString(cp.Description),
			}
			if err := seedProtocol(ctx, db, tx, p); err != nil {
				return fmt.Errorf("protocol %s: %w", cp.MachineCode, err)
			}
			res.Protocols++

			for _, cl := range cp.Layers {
				l := &Layer{
					ProtocolID:  p.ID,
					LayerID:     cl.LayerID,
					Name:        cl.Name,
					GeomType:    cl.GeomType,
					IsLookup:    cl.IsLookup,
					Description: optString(cl.Description),
				}
				if err := seedLayer(ctx, db, tx, l); err != nil {
					return fmt.Errorf("layer %s: %w", cl.LayerID, err)
				}
				res.Layers++
			}

			for _, cm := range cp.Metrics {
				pid := p.ID
				m := &Metric{
					ProtocolID:   &pid,
					Name:         cm.Name,
					MachineName:  cm.MachineName,
					Version:      cm.Version,
					Status:       cm.Status,
					DefaultLevel: cm.DefaultLevel,
					Function:     cm.Function,
					Params:       cm.Params,
					DefaultUnit:  optString(cm.DefaultUnit),
					Description:  optString(cm.Description),
					Metadata: MetricMetadata{
						Precision: cm.Precision,
						Tolerance: cm.Tolerance,
						Min:       cm.Min,
						Max:       cm.Max,
						Hierarchy: cm.Hierarchy,
					},
				}
				if err := seedMetric(ctx, db, tx, m); err != nil {
					return fmt.Errorf("metric %s: %w", cm.MachineName, err)
				}
				res.Metrics++
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, writeErr("seed catalog", err)
	}
	logf("seeded %d protocols, %d layers, %d metrics", res.Protocols, res.Layers, res.Metrics)
	return res, nil
}

func seedProtocol(ctx context.Context, db *DB, tx *sql.Tx, p *Protocol) error {
	err := tx.QueryRowContext(ctx, `SELECT id FROM protocols WHERE machine_code = ?`, p.MachineCode).Scan(&p.ID)
	if err == sql.ErrNoRows {
		return db.createProtocol(ctx, tx, p)
	}
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE protocols SET name = ?, version = ?, status = ?, description = ? WHERE id = ?`,
		p.Name, p.Version, p.Status, p.Description, p.ID)
	return err
}

func seedLayer(ctx context.Context, db *DB, tx *sql.Tx, l *Layer) error {
	err := tx.QueryRowContext(ctx, `SELECT id FROM layers WHERE protocol_id = ? AND layer_id = ?`,
		l.ProtocolID, l.LayerID).Scan(&l.ID)
	if err == sql.ErrNoRows {
		return db.createLayer(ctx, tx, l)
	}
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE layers SET name = ?, is_lookup = ?, description = ? WHERE id = ?`,
		l.Name, l.IsLookup, l.Description, l.ID)
	return err
}

func seedMetric(ctx context.Context, db *DB, tx *sql.Tx, m *Metric) error {
	err := tx.QueryRowContext(ctx, `SELECT id FROM metrics WHERE protocol_id = ? AND machine_name = ?`,
		*m.ProtocolID, m.MachineName).Scan(&m.ID)
	if err == sql.ErrNoRows {
		return db.createMetric(ctx, tx, m)
	}
	if err != nil {
		return err
	}
	return db.updateMetric(ctx, tx, m)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
