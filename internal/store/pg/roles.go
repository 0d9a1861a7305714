package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hrms.org/internal/auth"
	"hrms.org/internal/ids"
)

// RoleStore persists roles and their permission tags. Tags are append-only.
type RoleStore struct {
	db *sql.DB
}

var _ auth.RoleStore = (*RoleStore)(nil)

func (s *RoleStore) FindRoleByID(ctx context.Context, id string) (*auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	perms, err := permissionsFor(ctx, s.db, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func permissionsFor(ctx context.Context, q execer, roleID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select permission from role_permissions
		where role_id = $1
		order by added_at, permission
	`, roleID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, classify(err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return perms, nil
}

// Save upserts the role and adds any permission tags not yet stored.
func (s *RoleStore) Save(ctx context.Context, role *auth.Role) (*auth.Role, error) {
	name := auth.NormalizeTag(role.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", auth.ErrInvalidInput)
	}
	now := time.Now().UTC()
	out := auth.Role{ID: role.ID, Name: name}
	if out.ID == "" {
		out.ID = ids.NewAt(now)
	}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			insert into roles (id, name, created_at, updated_at)
			values ($1, $2, $3, $3)
			on conflict (id) do update
			set name = excluded.name, updated_at = excluded.updated_at
			returning created_at, updated_at
		`, out.ID, name, now).Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
			return classify(err)
		}
		for _, p := range role.Permissions {
			p = auth.NormalizeTag(p)
			if p == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission, added_at)
				values ($1, $2, $3)
				on conflict do nothing
			`, out.ID, p, now); err != nil {
				return classify(err)
			}
		}
		perms, err := permissionsFor(ctx, tx, out.ID)
		if err != nil {
			return err
		}
		out.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
