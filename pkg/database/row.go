// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"fmt"
	"slices"
	"strconv"
)

// Row is a result row. Columns keep the order of the select list.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a Row from parallel column and value lists.
func NewRow(columns []string, values []any) Row {
	return Row{columns: slices.Clone(columns), values: slices.Clone(values)}
}

// Columns returns the column names in select order.
func (r Row) Columns() []string {
	return slices.Clone(r.columns)
}

// Get returns the value of col. Text values are returned as strings.
func (r Row) Get(col string) (any, bool) {
	i := slices.Index(r.columns, col)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// String returns the value of col formatted as text. NULL and missing
// columns yield "".
func (r Row) String(col string) string {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value of col as an integer.
func (r Row) Int(col string) (int64, error) {
	v, ok := r.Get(col)
	if !ok {
		return 0, fmt.Errorf("no column %q", col)
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("column %q is NULL", col)
	}

	return 0, fmt.Errorf("column %q holds %T, not an integer", col, v)
}

// Map returns the row as a map. Column order is lost.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		out[c] = r.values[i]
	}
	return out
}
