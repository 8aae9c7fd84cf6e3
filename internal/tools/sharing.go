package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/driftline/nasgate/internal/registry"
)

// SharingTools covers SMB and NFS share administration.
type SharingTools struct {
	client Transport
}

func NewSharingTools(client Transport) *SharingTools {
	return &SharingTools{client: client}
}

func (t *SharingTools) TaskTypes() []string {
	return []string{"sharing-ops"}
}

func (t *SharingTools) Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Name:        "list_smb_shares",
			Description: "List all SMB shares",
			Params:      map[string]registry.ParamSpec{},
			Handler:     t.listSMBShares,
		},
		{
			Name:        "create_smb_share",
			Description: "Create an SMB share for a path",
			Params: map[string]registry.ParamSpec{
				"path":      {Type: "string", Required: true},
				"name":      {Type: "string", Required: true},
				"comment":   {Type: "string"},
				"read_only": {Type: "boolean"},
			},
			Handler: t.createSMBShare,
		},
		{
			Name:        "delete_smb_share",
			Description: "Delete an SMB share by name",
			Params: map[string]registry.ParamSpec{
				"name": {Type: "string", Required: true},
			},
			Handler: t.deleteSMBShare,
		},
		{
			Name:        "list_nfs_exports",
			Description: "List all NFS exports",
			Params:      map[string]registry.ParamSpec{},
			Handler:     t.listNFSExports,
		},
		{
			Name:        "create_nfs_export",
			Description: "Create an NFS export for a path",
			Params: map[string]registry.ParamSpec{
				"path":      {Type: "string", Required: true},
				"comment":   {Type: "string"},
				"read_only": {Type: "boolean"},
				"networks":  {Type: "array", Items: map[string]any{"type": "string"}},
			},
			Handler: t.createNFSExport,
		},
	}
}

func (t *SharingTools) listSMBShares(ctx context.Context, _ map[string]any) (any, error) {
	raw, err := t.client.Get(ctx, "/sharing/smb")
	if err != nil {
		return nil, err
	}

	shares := make([]map[string]any, 0)
	for _, s := range asList(raw) {
		shares = append(shares, map[string]any{
			"id":      s["id"],
			"name":    getString(s, "name"),
			"path":    getString(s, "path"),
			"comment": getString(s, "comment"),
			"enabled": getBool(s, "enabled"),
			"ro":      getBool(s, "ro"),
		})
	}

	return map[string]any{"success": true, "shares": shares}, nil
}

func (t *SharingTools) createSMBShare(ctx context.Context, args map[string]any) (any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"path":    path,
		"name":    name,
		"comment": argStringOr(args, "comment", ""),
		"ro":      argBoolOr(args, "read_only", false),
		"enabled": true,
	}

	created, err := t.client.Post(ctx, "/sharing/smb", body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "share": created}, nil
}

func (t *SharingTools) deleteSMBShare(ctx context.Context, args map[string]any) (any, error) {
	name, err := argString(args, "name")
	if err != nil {
		return nil, err
	}

	raw, err := t.client.Get(ctx, "/sharing/smb")
	if err != nil {
		return nil, err
	}
	for _, s := range asList(raw) {
		if getString(s, "name") == name {
			id := fmt.Sprintf("%v", s["id"])
			if _, err := t.client.Delete(ctx, "/sharing/smb/id/"+url.PathEscape(id), nil); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "deleted": name}, nil
		}
	}
	return nil, fmt.Errorf("SMB share %q not found", name)
}

func (t *SharingTools) listNFSExports(ctx context.Context, _ map[string]any) (any, error) {
	raw, err := t.client.Get(ctx, "/sharing/nfs")
	if err != nil {
		return nil, err
	}

	exports := make([]map[string]any, 0)
	for _, e := range asList(raw) {
		exports = append(exports, map[string]any{
			"id":       e["id"],
			"path":     e["path"],
			"comment":  getString(e, "comment"),
			"enabled":  getBool(e, "enabled"),
			"ro":       getBool(e, "ro"),
			"networks": e["networks"],
		})
	}

	return map[string]any{"success": true, "exports": exports}, nil
}

func (t *SharingTools) createNFSExport(ctx context.Context, args map[string]any) (any, error) {
	path, err := argString(args, "path")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"path":    path,
		"comment": argStringOr(args, "comment", ""),
		"ro":      argBoolOr(args, "read_only", false),
		"enabled": true,
	}
	if networks, ok := args["networks"].([]any); ok {
		body["networks"] = networks
	}

	created, err := t.client.Post(ctx, "/sharing/nfs", body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "export": created}, nil
}
