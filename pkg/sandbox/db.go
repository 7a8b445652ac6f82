package sandbox

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/flowgate/flowgate/pkg/registry"
)

// newDBModule exposes one injected database handle to scripts. execute runs a
// statement with optional named parameters, commits implicitly and returns
// fetched rows for row-producing statements or the affected-row count
// otherwise. acquire hands out a raw pooled connection; closing it is the
// script author's responsibility.
func newDBModule(h *registry.Handle) map[string]interface{} {
	db := h.DB
	return map[string]interface{}{
		"execute": func(query string, params ...map[string]interface{}) (interface{}, error) {
			q, args, err := bindNamed(db, query, params)
			if err != nil {
				return nil, err
			}
			if returnsRows(query) {
				rows, err := db.Queryx(q, args...)
				if err != nil {
					return nil, err
				}
				return collectRows(rows)
			}
			res, err := db.Exec(q, args...)
			if err != nil {
				return nil, err
			}
			return res.RowsAffected()
		},
		"acquire": func() (map[string]interface{}, error) {
			conn, err := db.Connx(context.Background())
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"query": func(query string, params ...map[string]interface{}) (interface{}, error) {
					q, args, err := bindNamed(db, query, params)
					if err != nil {
						return nil, err
					}
					rows, err := conn.QueryxContext(context.Background(), q, args...)
					if err != nil {
						return nil, err
					}
					return collectRows(rows)
				},
				"exec": func(query string, params ...map[string]interface{}) (interface{}, error) {
					q, args, err := bindNamed(db, query, params)
					if err != nil {
						return nil, err
					}
					res, err := conn.ExecContext(context.Background(), q, args...)
					if err != nil {
						return nil, err
					}
					return res.RowsAffected()
				},
				"close": func() error { return conn.Close() },
			}, nil
		},
	}
}

// bindNamed resolves :name parameters against the params map and rebinds
// placeholders for the handle's driver.
func bindNamed(db *sqlx.DB, query string, params []map[string]interface{}) (string, []interface{}, error) {
	if len(params) == 0 || len(params[0]) == 0 {
		return query, nil, nil
	}
	q, args, err := sqlx.Named(query, params[0])
	if err != nil {
		return "", nil, err
	}
	return db.Rebind(q), args, nil
}

// returnsRows reports whether a statement produces a result set. database/sql
// separates Query from Exec, so the statement kind is decided up front instead
// of fetching and falling back.
func returnsRows(query string) bool {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE":
		return true
	}
	for _, f := range fields {
		if f == "RETURNING" {
			return true
		}
	}
	return false
}

func collectRows(rows *sqlx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()
	results := []map[string]interface{}{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
