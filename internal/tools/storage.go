package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/driftline/nasgate/internal/registry"
)

// StorageTools covers pool and dataset administration.
type StorageTools struct {
	client Transport
}

func NewStorageTools(client Transport) *StorageTools {
	return &StorageTools{client: client}
}

func (t *StorageTools) TaskTypes() []string {
	return []string{"storage-ops"}
}

func (t *StorageTools) Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Name:        "list_pools",
			Description: "List all storage pools",
			Params: map[string]registry.ParamSpec{
				"limit":  {Type: "integer", Description: "Max items to return (default: 100, max: 500)"},
				"offset": {Type: "integer", Description: "Items to skip for pagination"},
			},
			Handler: t.listPools,
		},
		{
			Name:        "get_pool",
			Description: "Get a single pool by name",
			Params: map[string]registry.ParamSpec{
				"pool_name": {Type: "string", Required: true},
			},
			Handler: t.getPool,
		},
		{
			Name:        "get_pool_status",
			Description: "Get detailed status of a specific pool",
			Params: map[string]registry.ParamSpec{
				"pool_name": {Type: "string", Required: true},
			},
			Handler: t.getPoolStatus,
		},
		{
			Name:        "list_datasets",
			Description: "List all datasets",
			Params: map[string]registry.ParamSpec{
				"limit":     {Type: "integer", Description: "Max items to return (default: 100, max: 500)"},
				"offset":    {Type: "integer", Description: "Items to skip for pagination"},
				"pool_name": {Type: "string", Description: "Filter datasets by pool"},
			},
			Handler: t.listDatasets,
		},
		{
			Name:        "get_dataset",
			Description: "Get detailed information about a dataset",
			Params: map[string]registry.ParamSpec{
				"dataset": {Type: "string", Required: true},
			},
			Handler: t.getDataset,
		},
		{
			Name:        "create_dataset",
			Description: "Create a new dataset",
			Params: map[string]registry.ParamSpec{
				"pool_name":    {Type: "string", Required: true},
				"dataset_name": {Type: "string", Required: true},
				"compression":  {Type: "string"},
				"quota":        {Type: "string"},
				"recordsize":   {Type: "string"},
			},
			Handler: t.createDataset,
		},
		{
			Name:        "delete_dataset",
			Description: "Delete a dataset",
			Params: map[string]registry.ParamSpec{
				"dataset":   {Type: "string", Required: true},
				"recursive": {Type: "boolean"},
			},
			Handler: t.deleteDataset,
		},
		{
			Name:        "update_dataset",
			Description: "Update dataset properties",
			Params: map[string]registry.ParamSpec{
				"dataset":    {Type: "string", Required: true},
				"properties": {Type: "object", Required: true},
			},
			Handler: t.updateDataset,
		},
		{
			Name:        "set_quota",
			Description: "Set a quota on a dataset",
			Params: map[string]registry.ParamSpec{
				"dataset": {Type: "string", Required: true},
				"quota":   {Type: "string", Required: true},
			},
			Handler: t.setQuota,
		},
	}
}

func (t *StorageTools) listPools(ctx context.Context, args map[string]any) (any, error) {
	limit := argIntOr(args, "limit", defaultPageLimit)
	offset := argIntOr(args, "offset", 0)

	raw, err := t.client.Get(ctx, "/pool")
	if err != nil {
		return nil, err
	}
	pools := asList(raw)

	summaries := make([]map[string]any, 0, len(pools))
	var totalSize, totalAllocated, totalFree float64
	healthy := 0
	for _, pool := range pools {
		size := getNumber(pool, "size")
		allocated := getNumber(pool, "allocated")
		free := getNumber(pool, "free")
		totalSize += size
		totalAllocated += allocated
		totalFree += free

		var usage float64
		if size > 0 {
			usage = allocated / size * 100
		}
		if getBool(pool, "healthy") {
			healthy++
		}

		summaries = append(summaries, map[string]any{
			"name":          getString(pool, "name"),
			"status":        getString(pool, "status"),
			"healthy":       getBool(pool, "healthy"),
			"size":          formatSize(size),
			"allocated":     formatSize(allocated),
			"free":          formatSize(free),
			"usage_percent": round2(usage),
			"fragmentation": pool["fragmentation"],
		})
	}

	page, pagination := paginate(summaries, limit, offset)

	var overallUsage float64
	if totalSize > 0 {
		overallUsage = totalAllocated / totalSize * 100
	}

	return map[string]any{
		"success":    true,
		"pools":      page,
		"pagination": pagination,
		"metadata": map[string]any{
			"healthy_pools":         healthy,
			"degraded_pools":        len(summaries) - healthy,
			"total_capacity":        formatSize(totalSize),
			"total_allocated":       formatSize(totalAllocated),
			"total_free":            formatSize(totalFree),
			"overall_usage_percent": round2(overallUsage),
		},
	}, nil
}

func (t *StorageTools) getPool(ctx context.Context, args map[string]any) (any, error) {
	name, err := argString(args, "pool_name")
	if err != nil {
		return nil, err
	}

	pool, err := t.findPool(ctx, name)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"name":      getString(pool, "name"),
		"status":    getString(pool, "status"),
		"healthy":   getBool(pool, "healthy"),
		"size":      formatSize(getNumber(pool, "size")),
		"allocated": formatSize(getNumber(pool, "allocated")),
		"free":      formatSize(getNumber(pool, "free")),
	}, nil
}

func (t *StorageTools) getPoolStatus(ctx context.Context, args map[string]any) (any, error) {
	name, err := argString(args, "pool_name")
	if err != nil {
		return nil, err
	}

	pool, err := t.findPool(ctx, name)
	if err != nil {
		return nil, err
	}

	topology, _ := pool["topology"].(map[string]any)
	vdevCounts := map[string]any{}
	for _, kind := range []string{"data", "cache", "log", "spare"} {
		if vdevs, ok := topology[kind].([]any); ok {
			vdevCounts[kind+"_vdevs"] = len(vdevs)
		} else {
			vdevCounts[kind+"_vdevs"] = 0
		}
	}

	var scanState any
	if scan, ok := pool["scan"].(map[string]any); ok {
		scanState = scan["state"]
	}

	return map[string]any{
		"success":  true,
		"pool":     pool,
		"topology": vdevCounts,
		"scan":     scanState,
	}, nil
}

// findPool resolves a pool by id endpoint first, then by scanning the
// pool list (Core variants reject name lookups on /pool/id).
func (t *StorageTools) findPool(ctx context.Context, name string) (map[string]any, error) {
	raw, err := t.client.Get(ctx, "/pool/id/"+url.PathEscape(name))
	if err == nil {
		if pool, ok := raw.(map[string]any); ok {
			return pool, nil
		}
	}

	listRaw, err := t.client.Get(ctx, "/pool")
	if err != nil {
		return nil, err
	}
	for _, pool := range asList(listRaw) {
		if getString(pool, "name") == name {
			return pool, nil
		}
	}
	return nil, fmt.Errorf("pool %q not found", name)
}

func (t *StorageTools) listDatasets(ctx context.Context, args map[string]any) (any, error) {
	limit := argIntOr(args, "limit", defaultPageLimit)
	offset := argIntOr(args, "offset", 0)
	poolName := argStringOr(args, "pool_name", "")

	raw, err := t.client.Get(ctx, "/pool/dataset")
	if err != nil {
		return nil, err
	}

	datasets := make([]map[string]any, 0)
	for _, ds := range asList(raw) {
		if poolName != "" && getString(ds, "pool") != poolName {
			continue
		}
		datasets = append(datasets, map[string]any{
			"id":         getString(ds, "id"),
			"name":       getString(ds, "name"),
			"pool":       getString(ds, "pool"),
			"type":       getString(ds, "type"),
			"mountpoint": getString(ds, "mountpoint"),
		})
	}

	page, pagination := paginate(datasets, limit, offset)
	return map[string]any{
		"success":    true,
		"datasets":   page,
		"pagination": pagination,
	}, nil
}

func (t *StorageTools) getDataset(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := argString(args, "dataset")
	if err != nil {
		return nil, err
	}

	raw, err := t.client.Get(ctx, "/pool/dataset/id/"+url.PathEscape(dataset))
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "dataset": raw}, nil
}

func (t *StorageTools) createDataset(ctx context.Context, args map[string]any) (any, error) {
	poolName, err := argString(args, "pool_name")
	if err != nil {
		return nil, err
	}
	datasetName, err := argString(args, "dataset_name")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"name": poolName + "/" + datasetName,
		"type": "FILESYSTEM",
	}
	if compression := argStringOr(args, "compression", ""); compression != "" {
		body["compression"] = compression
	}
	if quota := argStringOr(args, "quota", ""); quota != "" {
		body["quota"] = quota
	}
	if recordsize := argStringOr(args, "recordsize", ""); recordsize != "" {
		body["recordsize"] = recordsize
	}

	created, err := t.client.Post(ctx, "/pool/dataset", body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "dataset": created}, nil
}

func (t *StorageTools) deleteDataset(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := argString(args, "dataset")
	if err != nil {
		return nil, err
	}
	recursive := argBoolOr(args, "recursive", false)

	_, err = t.client.Delete(ctx, "/pool/dataset/id/"+url.PathEscape(dataset), map[string]any{
		"recursive": recursive,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": dataset}, nil
}

func (t *StorageTools) updateDataset(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := argString(args, "dataset")
	if err != nil {
		return nil, err
	}
	properties, err := argObject(args, "properties")
	if err != nil {
		return nil, err
	}

	updated, err := t.client.Put(ctx, "/pool/dataset/id/"+url.PathEscape(dataset), properties)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "dataset": updated}, nil
}

func (t *StorageTools) setQuota(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := argString(args, "dataset")
	if err != nil {
		return nil, err
	}
	quota, err := argString(args, "quota")
	if err != nil {
		return nil, err
	}

	updated, err := t.client.Put(ctx, "/pool/dataset/id/"+url.PathEscape(dataset), map[string]any{
		"quota": quota,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "dataset": updated}, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
