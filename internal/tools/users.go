package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/driftline/nasgate/internal/registry"
)

// UserTools covers local account administration.
type UserTools struct {
	client Transport
}

func NewUserTools(client Transport) *UserTools {
	return &UserTools{client: client}
}

func (t *UserTools) TaskTypes() []string {
	return []string{"user-ops"}
}

func (t *UserTools) Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Name:        "list_users",
			Description: "List all local user accounts",
			Params: map[string]registry.ParamSpec{
				"limit":  {Type: "integer", Description: "Max items to return (default: 100, max: 500)"},
				"offset": {Type: "integer", Description: "Items to skip for pagination"},
			},
			Handler: t.listUsers,
		},
		{
			Name:        "get_user",
			Description: "Get details for a single user account",
			Params: map[string]registry.ParamSpec{
				"username": {Type: "string", Required: true},
			},
			Handler: t.getUser,
		},
		{
			Name:        "create_user",
			Description: "Create a local user account",
			Params: map[string]registry.ParamSpec{
				"username":  {Type: "string", Required: true},
				"full_name": {Type: "string", Required: true},
				"password":  {Type: "string", Required: true},
				"shell":     {Type: "string"},
				"home":      {Type: "string"},
			},
			Handler: t.createUser,
		},
		{
			Name:        "delete_user",
			Description: "Delete a local user account",
			Params: map[string]registry.ParamSpec{
				"username": {Type: "string", Required: true},
			},
			Handler: t.deleteUser,
		},
	}
}

func (t *UserTools) listUsers(ctx context.Context, args map[string]any) (any, error) {
	limit := argIntOr(args, "limit", defaultPageLimit)
	offset := argIntOr(args, "offset", 0)

	raw, err := t.client.Get(ctx, "/user")
	if err != nil {
		return nil, err
	}

	users := make([]map[string]any, 0)
	for _, u := range asList(raw) {
		if getBool(u, "builtin") {
			continue
		}
		users = append(users, map[string]any{
			"id":        u["id"],
			"username":  getString(u, "username"),
			"full_name": getString(u, "full_name"),
			"shell":     getString(u, "shell"),
			"locked":    getBool(u, "locked"),
		})
	}

	page, pagination := paginate(users, limit, offset)
	return map[string]any{
		"success":    true,
		"users":      page,
		"pagination": pagination,
	}, nil
}

func (t *UserTools) getUser(ctx context.Context, args map[string]any) (any, error) {
	username, err := argString(args, "username")
	if err != nil {
		return nil, err
	}

	user, err := t.findUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "user": user}, nil
}

func (t *UserTools) createUser(ctx context.Context, args map[string]any) (any, error) {
	username, err := argString(args, "username")
	if err != nil {
		return nil, err
	}
	fullName, err := argString(args, "full_name")
	if err != nil {
		return nil, err
	}
	password, err := argString(args, "password")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"username":     username,
		"full_name":    fullName,
		"password":     password,
		"group_create": true,
	}
	if shell := argStringOr(args, "shell", ""); shell != "" {
		body["shell"] = shell
	}
	if home := argStringOr(args, "home", ""); home != "" {
		body["home"] = home
	}

	created, err := t.client.Post(ctx, "/user", body)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "user": created}, nil
}

func (t *UserTools) deleteUser(ctx context.Context, args map[string]any) (any, error) {
	username, err := argString(args, "username")
	if err != nil {
		return nil, err
	}

	user, err := t.findUser(ctx, username)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%v", user["id"])
	if _, err := t.client.Delete(ctx, "/user/id/"+url.PathEscape(id), nil); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "deleted": username}, nil
}

func (t *UserTools) findUser(ctx context.Context, username string) (map[string]any, error) {
	raw, err := t.client.Get(ctx, "/user")
	if err != nil {
		return nil, err
	}
	for _, u := range asList(raw) {
		if getString(u, "username") == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %q not found", username)
}
