package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/querydesk/querydesk/internal/query"
)

// decodeRows decodes a JSON array of objects. Column order follows the keys
// of the first row; numbers are kept as json.Number.
func decodeRows(body []byte, limit int) (query.Result, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return query.Result{}, err
	}

	result := query.Result{Columns: []string{}, Rows: make([]query.Row, 0)}
	for i, raw := range raws {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		if i == 0 {
			keys, err := objectKeys(raw)
			if err != nil {
				return query.Result{}, err
			}
			result.Columns = keys
		}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		row := query.Row{}
		if err := decoder.Decode(&row); err != nil {
			return query.Result{}, fmt.Errorf("row %d: %w", i, err)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func objectKeys(raw json.RawMessage) ([]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("row is not a JSON object")
	}
	keys := make([]string, 0)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := token.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", token)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := decoder.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
