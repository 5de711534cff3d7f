package rpcserver

import "database/sql"

// scanRowsToMaps reads every row of rows into a map keyed by columns,
// using database/sql's generic scan-by-pointer so this works across the
// table-specific column/type shapes enumerated in entityRegistry without
// a reflect-based struct mapper.
func scanRowsToMaps(rows *sql.Rows, columns []string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue converts sqlite's []byte representation of TEXT columns
// into plain strings so JSON encoding doesn't base64 them.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
