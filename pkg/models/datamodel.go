package models

// DataModel maps a logical model name onto a physical table for generic CRUD
// endpoints.
type DataModel struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	TableName   string  `json:"table_name" db:"table_name"`
	Description *string `json:"description,omitempty" db:"description"`
	Enabled     bool    `json:"enabled" db:"enabled"`
}
