package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"branchdb/internal/table"
)

// Batch is one CSV file staged for insertion: the rows tagged with the
// target table plus an id identifying the import.
type Batch struct {
	ID    string
	Table string
	Rows  int
	Delta *table.Delta
}

// Import reads a CSV file and stages its records as inserts into the
// named table. The first record is the header. If the table does not
// exist in state, a schema is derived: every column TEXT, the first
// header column the primary key.
func Import(path, tableName string, state *table.State) (*Batch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("csv file has an empty header")
	}

	var schema *table.Schema
	delta := table.NewDelta()
	td := delta.Table(tableName)

	if tbl, ok := state.Tables[tableName]; ok {
		schema = tbl.Schema
		for _, name := range header {
			if _, ok := schema.Column(name); !ok {
				return nil, fmt.Errorf("csv column %q not in table %q", name, tableName)
			}
		}
	} else {
		schema = textSchema(header)
		td.Create = schema
	}

	batch := &Batch{ID: uuid.New().String(), Table: tableName, Delta: delta}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv record: %w", err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("record %d has %d fields, header has %d", batch.Rows+1, len(record), len(header))
		}

		values := make(map[string]table.Value, len(header))
		for i, name := range header {
			col, _ := schema.Column(name)
			v, err := table.NewText(record[i]).Coerce(col.Type)
			if err != nil {
				return nil, fmt.Errorf("record %d column %q: %w", batch.Rows+1, name, err)
			}
			values[name] = v
		}

		key, err := schema.KeyFor(values)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", batch.Rows+1, err)
		}
		td.Rows[key] = table.RowChange{Set: values}
		batch.Rows++
	}

	return batch, nil
}

func textSchema(header []string) *table.Schema {
	schema := &table.Schema{}
	for i, name := range header {
		schema.Columns = append(schema.Columns, table.Column{
			Name:       name,
			Type:       table.TypeText,
			PrimaryKey: i == 0,
		})
	}
	return schema
}
