package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type ChartType string

const (
	ChartBar           ChartType = "bar"
	ChartHorizontalBar ChartType = "horizontal_bar"
	ChartLine          ChartType = "line"
	ChartPie           ChartType = "pie"
	ChartScatter       ChartType = "scatter"
)

// ChartTypes lists the chart kinds a recommendation may use.
var ChartTypes = []ChartType{ChartBar, ChartHorizontalBar, ChartLine, ChartPie, ChartScatter}

// Columns is column-oriented chart data: column name to values.
type Columns map[string][]any

// Names returns the column names in sorted order.
func (c Columns) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON accepts an object of columns, a list of row objects, or
// either of those encoded inside a JSON string. Rows are merged into columns
// padded with nulls so every column has one value per row.
func (c *Columns) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return c.UnmarshalJSON([]byte(s))
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(b, &rows); err != nil {
			return fmt.Errorf("chart rows: %w", err)
		}
		*c = RowsToColumns(rows)
		return nil
	case '{':
		var cols map[string][]any
		if err := json.Unmarshal(b, &cols); err != nil {
			return fmt.Errorf("chart columns: %w", err)
		}
		*c = cols
		return nil
	}
	return fmt.Errorf("chart data must be an object or a list, got %q", b[:1])
}

// RowsToColumns converts a list of row objects into columns, padding
// values missing from a row with nil.
func RowsToColumns(rows []map[string]any) Columns {
	cols := Columns{}
	for i, row := range rows {
		for k, v := range row {
			if _, ok := cols[k]; !ok {
				cols[k] = make([]any, i, len(rows))
			}
			cols[k] = append(cols[k], v)
		}
		for k := range cols {
			if len(cols[k]) < i+1 {
				cols[k] = append(cols[k], nil)
			}
		}
	}
	return cols
}

// ChartData is the preprocessed data for a chart.
type ChartData struct {
	Data      Columns `json:"data"`
	Reasoning string  `json:"reasoning"`
}

// ChartMetadata is the recommended chart configuration. Nil fields are unset.
type ChartMetadata struct {
	ChartType  *ChartType `json:"chart_type"`
	Title      *string    `json:"title"`
	XAxis      *string    `json:"x_axis"`
	XAxisTitle *string    `json:"x_axis_title"`
	YAxis      *string    `json:"y_axis"`
	YAxisTitle *string    `json:"y_axis_title"`
	Label      *string    `json:"label"`
	LabelTitle *string    `json:"label_title"`
	Reasoning  *string    `json:"reasoning"`
}

// Chart is a chart with its validity flag.
type Chart struct {
	Data     Columns       `json:"data"`
	Metadata ChartMetadata `json:"metadata"`
	IsValid  bool          `json:"is_valid"`
}

// Visualization is the visualization agent's output.
type Visualization struct {
	Chart    Chart  `json:"chart"`
	Insights string `json:"insights"`
}
