// Package statement executes SQL statements on a Databricks SQL warehouse and
// assembles their chunked results into ordered, name-keyed rows.
package statement

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// State is the lifecycle state reported for a statement.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
	StateClosed    State = "CLOSED"
)

// Terminal reports whether the service will not change s any further.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled, StateClosed:
		return true
	default:
		return false
	}
}

// Parameter is a named statement parameter, referenced as :name in SQL.
type Parameter struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Request describes one statement submission.
type Request struct {
	WarehouseID string      `json:"warehouse_id" validate:"required"`
	Statement   string      `json:"statement" validate:"required"`
	Catalog     string      `json:"catalog,omitempty"`
	Schema      string      `json:"schema,omitempty"`
	WaitTimeout string      `json:"wait_timeout,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty" validate:"dive"`
}

// Column is one entry of the result manifest.
type Column struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name,omitempty"`
	Position int    `json:"position"`
}

type Manifest struct {
	TotalChunkCount int `json:"total_chunk_count"`
	Schema          struct {
		Columns []Column `json:"columns"`
	} `json:"schema"`
}

// Chunk is one page of result rows.
type Chunk struct {
	ChunkIndex int     `json:"chunk_index"`
	RowCount   int     `json:"row_count,omitempty"`
	DataArray  [][]any `json:"data_array"`
}

// Response is the submit and poll response. Status is kept verbatim so that
// failures can carry it unchanged.
type Response struct {
	StatementID string          `json:"statement_id"`
	Status      json.RawMessage `json:"status"`
	Manifest    *Manifest       `json:"manifest,omitempty"`
	Result      *Chunk          `json:"result,omitempty"`
}

func (r *Response) State() State {
	return State(gjson.GetBytes(r.Status, "state").String())
}

func (r *Response) columns() []Column {
	if r.Manifest == nil {
		return nil
	}

	return r.Manifest.Schema.Columns
}

func (r *Response) totalChunks() int {
	if r.Manifest == nil {
		return 0
	}

	return r.Manifest.TotalChunkCount
}

// Result is a fully assembled statement result.
type Result struct {
	StatementID string           `json:"statement_id"`
	Columns     []Column         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
}

// Project pairs a positional row with columns: row[i] becomes the value of
// columns[i].Name. Missing cells are nil; extra cells are dropped.
func Project(row []any, columns []Column) map[string]any {
	record := make(map[string]any, len(columns))

	for i, col := range columns {
		if i < len(row) {
			record[col.Name] = row[i]
		} else {
			record[col.Name] = nil
		}
	}

	return record
}
