// Package tools implements the concrete administration tool sets the
// gateway exposes: storage, users, sharing, and snapshots, all backed
// by the appliance management API.
package tools

import (
	"context"
	"fmt"
)

// Transport is the subset of the appliance client the tool sets consume.
type Transport interface {
	Get(ctx context.Context, path string) (any, error)
	Post(ctx context.Context, path string, body any) (any, error)
	Put(ctx context.Context, path string, body any) (any, error)
	Delete(ctx context.Context, path string, body any) (any, error)
}

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// --- argument destructuring helpers ---

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}

func argStringOr(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return fallback
}

func argIntOr(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argBoolOr(args map[string]any, key string, fallback bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return fallback
}

func argObject(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an object", key)
	}
	return m, nil
}

// asList coerces an API response into a slice of objects.
func asList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getNumber(m map[string]any, key string) float64 {
	n, _ := m[key].(float64)
	return n
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// formatSize renders a byte count in human-readable units.
func formatSize(sizeBytes float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}
	size := sizeBytes
	for _, unit := range units {
		if size < 1024 || unit == units[len(units)-1] {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f B", sizeBytes)
}

// paginate slices a result list and reports pagination metadata.
func paginate(items []map[string]any, limit, offset int) ([]map[string]any, map[string]any) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	total := len(items)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return items[start:end], map[string]any{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"returned": end - start,
		"has_more": end < total,
	}
}
