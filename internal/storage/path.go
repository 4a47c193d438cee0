package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const chartPrefix = "charts"

// BuildChartKey returns the object key of a rendered chart spec.
func BuildChartKey(id string) (string, error) {
	if err := validateKeyComponent(id, "chart id"); err != nil {
		return "", err
	}
	return path.Join(chartPrefix, id+".vl.json"), nil
}

// CleanKey validates a caller supplied object key such as a parquet path or
// the schema cache key.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	for _, component := range strings.Split(key, "/") {
		if err := validateKeyComponent(component, "key component"); err != nil {
			return "", fmt.Errorf("invalid object key %q: %w", key, err)
		}
	}
	return key, nil
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
