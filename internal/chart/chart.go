package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/storage"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

var ErrNotChartable = errors.New("result is not chartable")

type Input struct {
	Question string
	Columns  []string
	Rows     []query.Row
}

// Renderer produces a chart for a result and returns a reference to it.
type Renderer interface {
	Render(ctx context.Context, input Input) (string, error)
}

// ObjectStoreRenderer writes a Vega-Lite spec to the object store and returns
// its URL.
type ObjectStoreRenderer struct {
	store     storage.ObjectStore
	urlPrefix string
	newID     func() string
}

func NewObjectStoreRenderer(store storage.ObjectStore, urlPrefix string) *ObjectStoreRenderer {
	return &ObjectStoreRenderer{
		store:     store,
		urlPrefix: urlPrefix,
		newID:     func() string { return uuid.NewString() },
	}
}

func (r *ObjectStoreRenderer) Render(ctx context.Context, input Input) (string, error) {
	spec, err := BuildSpec(input)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("encode chart spec: %w", err)
	}
	key, err := storage.BuildChartKey(r.newID())
	if err != nil {
		return "", err
	}
	if _, err := r.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		return "", fmt.Errorf("store chart spec: %w", err)
	}
	return joinURL(r.urlPrefix, key), nil
}

// BuildSpec renders a bar chart of the first label column against the first
// numeric column.
func BuildSpec(input Input) (map[string]any, error) {
	if len(input.Rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrNotChartable)
	}
	label, value := "", ""
	for _, column := range input.Columns {
		switch {
		case value == "" && isNumericColumn(input.Rows, column):
			value = column
		case label == "" && isLabelColumn(input.Rows, column):
			label = column
		}
	}
	if label == "" || value == "" {
		return nil, fmt.Errorf("%w: need one label column and one numeric column", ErrNotChartable)
	}

	values := make([]map[string]any, 0, len(input.Rows))
	for _, row := range input.Rows {
		values = append(values, map[string]any{label: row[label], value: numericValue(row[value])})
	}
	spec := map[string]any{
		"$schema": vegaLiteSchema,
		"data":    map[string]any{"values": values},
		"mark":    "bar",
		"encoding": map[string]any{
			"x": map[string]any{"field": label, "type": "nominal", "sort": nil},
			"y": map[string]any{"field": value, "type": "quantitative"},
		},
	}
	if title := strings.TrimSpace(input.Question); title != "" {
		spec["title"] = title
	}
	return spec, nil
}

func isNumericColumn(rows []query.Row, column string) bool {
	seen := false
	for _, row := range rows {
		value, ok := row[column]
		if !ok || value == nil {
			continue
		}
		if !isNumber(value) {
			return false
		}
		seen = true
	}
	return seen
}

func isLabelColumn(rows []query.Row, column string) bool {
	for _, row := range rows {
		if _, ok := row[column].(string); ok {
			return true
		}
	}
	return false
}

// isNumber also accepts numeric text, which is how database/sql drivers hand
// back NUMERIC and DECIMAL values.
func isNumber(value any) bool {
	switch typed := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	case string:
		_, ok := parseNumeric(typed)
		return ok
	default:
		return false
	}
}

func numericValue(value any) any {
	if text, ok := value.(string); ok {
		if parsed, ok := parseNumeric(text); ok {
			return parsed
		}
	}
	return value
}

func parseNumeric(text string) (float64, bool) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
		return 0, false
	}
	return parsed, true
}

func joinURL(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimRight(prefix, "/") + "/" + key
}
