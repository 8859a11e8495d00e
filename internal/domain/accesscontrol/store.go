package accesscontrol

import (
	"context"
	"fmt"

	"calmmap/internal/infra/dbx"
)

type Repository struct {
	q dbx.Querier
}

func NewRepository(q dbx.Querier) Store {
	return &Repository{q: q}
}

func (r *Repository) AssignRole(ctx context.Context, userID int64, role RoleName) error {
	query := `
        INSERT INTO user_roles (user_id, role_id)
        SELECT $1, id FROM roles WHERE name = $2
        ON CONFLICT DO NOTHING
    `
	ct, err := r.q.Exec(ctx, query, userID, string(role))
	if err != nil {
		return fmt.Errorf("assign role %s: %w", role, err)
	}
	if ct.RowsAffected() == 0 {
		// Either already assigned or the role does not exist.
		var exists bool
		if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, string(role)).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRoleNotFound
		}
	}
	return nil
}

func (r *Repository) RemoveRole(ctx context.Context, userID int64, role RoleName) error {
	query := `
        DELETE FROM user_roles ur
        USING roles r
        WHERE ur.role_id = r.id AND ur.user_id = $1 AND r.name = $2
    `
	result, err := r.q.Exec(ctx, query, userID, string(role))
	if err != nil {
		return fmt.Errorf("remove role %s: %w", role, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (r *Repository) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	query := `
        SELECT r.id, r.name, r.description, r.created_at, r.updated_at
        FROM roles r
        JOIN user_roles ur ON ur.role_id = r.id
        WHERE ur.user_id = $1
        ORDER BY r.name
    `
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *Repository) UserHasRole(ctx context.Context, userID int64, role RoleName) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS (
            SELECT 1
            FROM user_roles ur
            JOIN roles r ON ur.role_id = r.id
            WHERE ur.user_id = $1 AND r.name = $2
        )
    `
	err := r.q.QueryRow(ctx, query, userID, string(role)).Scan(&exists)
	return exists, err
}

func (r *Repository) LockRoleHolders(ctx context.Context, role RoleName) ([]int64, error) {
	query := `
        SELECT ur.user_id
        FROM user_roles ur
        JOIN roles r ON ur.role_id = r.id
        WHERE r.name = $1
        ORDER BY ur.user_id
        FOR UPDATE OF ur
    `
	rows, err := r.q.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("lock %s holders: %w", role, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
