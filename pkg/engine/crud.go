package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
)

// identifier restricts table and column names to plain SQL identifiers. Table
// names come from admin-managed data models and column names from request
// bodies, so both are validated before they reach a statement.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CRUDExecutor serves generic table CRUD endpoints against the metadata
// database.
type CRUDExecutor struct {
	db *sqlx.DB
}

// NewCRUDExecutor returns a CRUDExecutor on db.
func NewCRUDExecutor(db *sqlx.DB) *CRUDExecutor {
	return &CRUDExecutor{db: db}
}

// Execute maps the HTTP method onto the model's table: GET lists or fetches
// one record, POST creates, PUT updates, DELETE removes. List responses are
// paginated through the page and page_size query parameters.
func (c *CRUDExecutor) Execute(model models.DataModel, reqCtx sandbox.RequestContext) (interface{}, error) {
	table := model.TableName
	if !identifier.MatchString(table) {
		return nil, errors.Errorf("invalid table name: %s", table)
	}

	id, hasID := pathID(reqCtx)
	switch strings.ToUpper(reqCtx.Method) {
	case "GET":
		if hasID {
			return c.getOne(table, id)
		}
		return c.list(table, reqCtx.Query)
	case "POST":
		return c.create(table, reqCtx.Body)
	case "PUT", "PATCH":
		if !hasID {
			return map[string]interface{}{"error": "record id is required"}, nil
		}
		return c.update(table, id, reqCtx.Body)
	case "DELETE":
		if !hasID {
			return map[string]interface{}{"error": "record id is required"}, nil
		}
		return c.remove(table, id)
	default:
		return map[string]interface{}{
			"error": fmt.Sprintf("unsupported CRUD method: %s", reqCtx.Method),
		}, nil
	}
}

func intParam(query map[string]string, key string, fallback int) int {
	raw, ok := query[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func pathID(reqCtx sandbox.RequestContext) (int64, bool) {
	raw, ok := reqCtx.Path["id"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *CRUDExecutor) list(table string, query map[string]string) (interface{}, error) {
	page := intParam(query, "page", 1)
	pageSize := intParam(query, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}

	var total int64
	if err := c.db.Get(&total, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		return nil, errors.Wrap(err, "count records")
	}

	q := c.db.Rebind(fmt.Sprintf("SELECT * FROM %s LIMIT ? OFFSET ?", table))
	rows, err := c.db.Queryx(q, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	items, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}, nil
}

func (c *CRUDExecutor) getOne(table string, id int64) (interface{}, error) {
	q := c.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table))
	rows, err := c.db.Queryx(q, id)
	if err != nil {
		return nil, errors.Wrap(err, "get record")
	}
	items, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return map[string]interface{}{"error": "record not found"}, nil
	}
	return items[0], nil
}

func (c *CRUDExecutor) create(table string, body map[string]interface{}) (interface{}, error) {
	cols, args, err := columnArgs(body)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return map[string]interface{}{"error": "request body is empty"}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)

	var id int64
	if c.db.DriverName() == "postgres" {
		if err := c.db.QueryRowx(c.db.Rebind(stmt+" RETURNING id"), args...).Scan(&id); err != nil {
			return nil, errors.Wrap(err, "create record")
		}
	} else {
		res, err := c.db.Exec(c.db.Rebind(stmt), args...)
		if err != nil {
			return nil, errors.Wrap(err, "create record")
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, errors.Wrap(err, "create record")
		}
	}
	return map[string]interface{}{"id": id, "message": "created successfully"}, nil
}

func (c *CRUDExecutor) update(table string, id int64, body map[string]interface{}) (interface{}, error) {
	cols, args, err := columnArgs(body)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return map[string]interface{}{"error": "request body is empty"}, nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
	res, err := c.db.Exec(c.db.Rebind(stmt), append(args, id)...)
	if err != nil {
		return nil, errors.Wrap(err, "update record")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return map[string]interface{}{"error": "record not found"}, nil
	}
	return map[string]interface{}{"message": "updated successfully"}, nil
}

func (c *CRUDExecutor) remove(table string, id int64) (interface{}, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	res, err := c.db.Exec(c.db.Rebind(stmt), id)
	if err != nil {
		return nil, errors.Wrap(err, "delete record")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return map[string]interface{}{"error": "record not found"}, nil
	}
	return map[string]interface{}{"message": "deleted successfully"}, nil
}

// columnArgs splits a request body into validated column names and their
// values, in a stable order.
func columnArgs(body map[string]interface{}) ([]string, []interface{}, error) {
	cols := make([]string, 0, len(body))
	for k := range body {
		if !identifier.MatchString(k) {
			return nil, nil, errors.Errorf("invalid column name: %s", k)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	args := make([]interface{}, len(cols))
	for i, col := range cols {
		args[i] = body[col]
	}
	return cols, args, nil
}

func scanRows(rows *sqlx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()
	items := []map[string]interface{}{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		items = append(items, row)
	}
	return items, rows.Err()
}
