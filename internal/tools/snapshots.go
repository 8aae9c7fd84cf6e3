package tools

import (
	"context"
	"net/url"

	"github.com/driftline/nasgate/internal/registry"
)

// SnapshotTools covers ZFS snapshot lifecycle operations.
type SnapshotTools struct {
	client Transport
}

func NewSnapshotTools(client Transport) *SnapshotTools {
	return &SnapshotTools{client: client}
}

func (t *SnapshotTools) TaskTypes() []string {
	return []string{"snapshot-ops"}
}

func (t *SnapshotTools) Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Name:        "list_snapshots",
			Description: "List snapshots, optionally filtered by dataset",
			Params: map[string]registry.ParamSpec{
				"dataset": {Type: "string", Description: "Filter snapshots by dataset"},
				"limit":   {Type: "integer", Description: "Max items to return (default: 100, max: 500)"},
				"offset":  {Type: "integer", Description: "Items to skip for pagination"},
			},
			Handler: t.listSnapshots,
		},
		{
			Name:        "create_snapshot",
			Description: "Create a snapshot of a dataset",
			Params: map[string]registry.ParamSpec{
				"dataset":   {Type: "string", Required: true},
				"name":      {Type: "string", Required: true},
				"recursive": {Type: "boolean"},
			},
			Handler: t.createSnapshot,
		},
		{
			Name:        "delete_snapshot",
			Description: "Delete a snapshot by id (dataset@name)",
			Params: map[string]registry.ParamSpec{
				"snapshot_id": {Type: "string", Required: true},
			},
			Handler: t.deleteSnapshot,
		},
		{
			Name:        "rollback_snapshot",
			Description: "Roll a dataset back to a snapshot",
			Params: map[string]registry.ParamSpec{
				"snapshot_id": {Type: "string", Required: true},
				"force":       {Type: "boolean"},
			},
			Handler: t.rollbackSnapshot,
		},
		{
			Name:        "clone_snapshot",
			Description: "Clone a snapshot into a new dataset",
			Params: map[string]registry.ParamSpec{
				"snapshot_id":    {Type: "string", Required: true},
				"target_dataset": {Type: "string", Required: true},
			},
			Handler: t.cloneSnapshot,
		},
	}
}

func (t *SnapshotTools) listSnapshots(ctx context.Context, args map[string]any) (any, error) {
	limit := argIntOr(args, "limit", defaultPageLimit)
	offset := argIntOr(args, "offset", 0)
	dataset := argStringOr(args, "dataset", "")

	raw, err := t.client.Get(ctx, "/zfs/snapshot")
	if err != nil {
		return nil, err
	}

	snapshots := make([]map[string]any, 0)
	for _, s := range asList(raw) {
		if dataset != "" && getString(s, "dataset") != dataset {
			continue
		}
		snapshots = append(snapshots, map[string]any{
			"id":      getString(s, "id"),
			"dataset": getString(s, "dataset"),
			"name":    getString(s, "snapshot_name"),
		})
	}

	page, pagination := paginate(snapshots, limit, offset)
	return map[string]any{
		"success":    true,
		"snapshots":  page,
		"pagination": pagination,
	}, nil
}

func (t *SnapshotTools) createSnapshot(ctx context.Context, args map[string]any) (any, error) {
	dataset, err := argString(args, "dataset")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}

	created, err := t.client.Post(ctx, "/zfs/snapshot", map[string]any{
		"dataset":   dataset,
		"name":      name,
		"recursive": argBoolOr(args, "recursive", false),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "snapshot": created}, nil
}

func (t *SnapshotTools) deleteSnapshot(ctx context.Context, args map[string]any) (any, error) {
	id, err := argString(args, "snapshot_id")
	if err != nil {
		return nil, err
	}

	if _, err := t.client.Delete(ctx, "/zfs/snapshot/id/"+url.PathEscape(id), nil); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": id}, nil
}

func (t *SnapshotTools) rollbackSnapshot(ctx context.Context, args map[string]any) (any, error) {
	id, err := argString(args, "snapshot_id")
	if err != nil {
		return nil, err
	}

	result, err := t.client.Post(ctx, "/zfs/snapshot/rollback", map[string]any{
		"id":    id,
		"force": argBoolOr(args, "force", false),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "result": result}, nil
}

func (t *SnapshotTools) cloneSnapshot(ctx context.Context, args map[string]any) (any, error) {
	id, err := argString(args, "snapshot_id")
	if err != nil {
		return nil, err
	}
	target, err := argString(args, "target_dataset")
	if err != nil {
		return nil, err
	}

	result, err := t.client.Post(ctx, "/zfs/snapshot/clone", map[string]any{
		"snapshot":    id,
		"dataset_dst": target,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "result": result}, nil
}
