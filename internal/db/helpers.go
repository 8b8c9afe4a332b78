package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/riverscapes/qris/internal/errors"
)

// cleanName trims a user-supplied entity name and rejects empty names.
func cleanName(op, name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", errors.Newf(errors.KindValidation, op, "name is required")
	}
	return n, nil
}

// jsonText encodes v for a TEXT column; nil and empty maps become NULL.
func jsonText(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		if rv.IsNil() || (rv.Kind() != reflect.Pointer && rv.Len() == 0) {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return string(b), nil
}

// scanJSON decodes a nullable TEXT column into dst.
func scanJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	i := ni.Int64
	return &i
}

func notFound(op, entity string, id any) error {
	return errors.Newf(errors.KindNotFound, op, "%s %v not found", entity, id)
}

// checkAffected returns a not found error when an update or delete touched no row.
func checkAffected(res sql.Result, op, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound(op, entity, id)
	}
	return nil
}
