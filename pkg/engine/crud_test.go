package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowgate/flowgate/internal/testutil"
	"github.com/flowgate/flowgate/pkg/engine"
	"github.com/flowgate/flowgate/pkg/models"
	"github.com/flowgate/flowgate/pkg/sandbox"
)

func newCRUDFixture(t *testing.T) (*engine.CRUDExecutor, models.DataModel) {
	db := testutil.SetupTestDB(t)
	_, err := db.Exec(`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		qty INTEGER NOT NULL DEFAULT 0
	)`)
	assert.NoError(t, err)
	return engine.NewCRUDExecutor(db), models.DataModel{ID: 1, Name: "item", TableName: "items", Enabled: true}
}

func crudCtx(method string, id string, body map[string]interface{}) sandbox.RequestContext {
	ctx := sandbox.RequestContext{
		Method:  method,
		Path:    map[string]string{},
		Query:   map[string]string{},
		Body:    body,
		Headers: map[string]string{},
	}
	if ctx.Body == nil {
		ctx.Body = map[string]interface{}{}
	}
	if id != "" {
		ctx.Path["id"] = id
	}
	return ctx
}

func TestCRUDLifecycle(t *testing.T) {
	crud, model := newCRUDFixture(t)

	var itemID int64
	t.Run("create", func(t *testing.T) {
		result, err := crud.Execute(model, crudCtx("POST", "", map[string]interface{}{"name": "bolt", "qty": 3}))
		assert.NoError(t, err)
		body := result.(map[string]interface{})
		assert.Equal(t, "created successfully", body["message"])
		itemID = body["id"].(int64)
		assert.Greater(t, itemID, int64(0))
	})

	t.Run("get one", func(t *testing.T) {
		result, err := crud.Execute(model, crudCtx("GET", "1", nil))
		assert.NoError(t, err)
		row := result.(map[string]interface{})
		assert.Equal(t, "bolt", row["name"])
	})

	t.Run("list", func(t *testing.T) {
		_, err := crud.Execute(model, crudCtx("POST", "", map[string]interface{}{"name": "nut", "qty": 7}))
		assert.NoError(t, err)

		result, err := crud.Execute(model, crudCtx("GET", "", nil))
		assert.NoError(t, err)
		body := result.(map[string]interface{})
		assert.Equal(t, int64(2), body["total"])
		assert.Equal(t, 1, body["page"])
		assert.Equal(t, 20, body["page_size"])
		items := body["items"].([]map[string]interface{})
		assert.Len(t, items, 2)
	})

	t.Run("update", func(t *testing.T) {
		result, err := crud.Execute(model, crudCtx("PUT", "1", map[string]interface{}{"qty": 5}))
		assert.NoError(t, err)
		body := result.(map[string]interface{})
		assert.Equal(t, "updated successfully", body["message"])

		got, err := crud.Execute(model, crudCtx("GET", "1", nil))
		assert.NoError(t, err)
		row := got.(map[string]interface{})
		assert.Equal(t, int64(5), row["qty"])
	})

	t.Run("delete", func(t *testing.T) {
		result, err := crud.Execute(model, crudCtx("DELETE", "1", nil))
		assert.NoError(t, err)
		body := result.(map[string]interface{})
		assert.Equal(t, "deleted successfully", body["message"])

		got, err := crud.Execute(model, crudCtx("GET", "1", nil))
		assert.NoError(t, err)
		row := got.(map[string]interface{})
		assert.Equal(t, "record not found", row["error"])
	})
}

func TestCRUDListPagination(t *testing.T) {
	crud, model := newCRUDFixture(t)
	for i := 0; i < 5; i++ {
		_, err := crud.Execute(model, crudCtx("POST", "", map[string]interface{}{"name": "part", "qty": i}))
		assert.NoError(t, err)
	}

	ctx := crudCtx("GET", "", nil)
	ctx.Query["page"] = "2"
	ctx.Query["page_size"] = "2"

	result, err := crud.Execute(model, ctx)
	assert.NoError(t, err)
	body := result.(map[string]interface{})
	assert.Equal(t, int64(5), body["total"])
	assert.Equal(t, 2, body["page"])
	assert.Equal(t, 2, body["page_size"])
	items := body["items"].([]map[string]interface{})
	assert.Len(t, items, 2)
}

func TestCRUDRejectsBadIdentifiers(t *testing.T) {
	crud, _ := newCRUDFixture(t)

	t.Run("table name", func(t *testing.T) {
		bad := models.DataModel{TableName: "items; DROP TABLE items"}
		_, err := crud.Execute(bad, crudCtx("GET", "", nil))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("column name", func(t *testing.T) {
		model := models.DataModel{TableName: "items"}
		_, err := crud.Execute(model, crudCtx("POST", "", map[string]interface{}{"name, qty) VALUES ('x', 0); --": "y"}))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid column name")
	})
}

func TestCRUDUpdateWithoutID(t *testing.T) {
	crud, model := newCRUDFixture(t)

	result, err := crud.Execute(model, crudCtx("PUT", "", map[string]interface{}{"qty": 1}))
	assert.NoError(t, err)
	body := result.(map[string]interface{})
	assert.Equal(t, "record id is required", body["error"])
}
