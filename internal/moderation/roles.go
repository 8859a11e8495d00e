package moderation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"calmmap/internal/domain/accesscontrol"
	"calmmap/internal/domain/storage"
	"calmmap/internal/events"
)

func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		ok, err = tx.AccessControl.UserHasRole(ctx, userID, accesscontrol.RoleAdmin)
		return err
	})
	return ok, err
}

func (s *Service) UserRoles(ctx context.Context, userID int64) ([]accesscontrol.Role, error) {
	var out []accesscontrol.Role
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		out, err = tx.AccessControl.GetUserRoles(ctx, userID)
		return err
	})
	return out, err
}

// Promote grants the admin role. Promoting an admin is a no-op.
func (s *Service) Promote(ctx context.Context, userID, actorID int64) error {
	var already bool
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		if already, err = tx.AccessControl.UserHasRole(ctx, userID, accesscontrol.RoleAdmin); err != nil || already {
			return err
		}
		return tx.AccessControl.AssignRole(ctx, userID, accesscontrol.RoleAdmin)
	})
	if err != nil {
		return fmt.Errorf("promote user %d: %w", userID, err)
	}
	if already {
		return nil
	}

	s.logger.Infow("admin promoted", "user_id", userID, "actor_id", actorID)
	e := s.event(events.AdminPromoted)
	e.ActorID = actorID
	e.UserID = userID
	s.publish(ctx, e)
	return nil
}

// Demote removes the admin role. The admin assignments are locked while they
// are counted, so two concurrent demotions cannot leave zero admins.
func (s *Service) Demote(ctx context.Context, userID, actorID int64) error {
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		admins, err := tx.AccessControl.LockRoleHolders(ctx, accesscontrol.RoleAdmin)
		if err != nil {
			return err
		}
		if !slices.Contains(admins, userID) {
			return &NotFoundError{Entity: "admin", ID: userID}
		}
		if len(admins) <= 1 {
			return &ConflictError{Reason: "cannot demote the last admin"}
		}

		err = tx.AccessControl.RemoveRole(ctx, userID, accesscontrol.RoleAdmin)
		if errors.Is(err, accesscontrol.ErrAssignmentNotFound) {
			return &NotFoundError{Entity: "admin", ID: userID, Err: err}
		}
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Infow("admin demoted", "user_id", userID, "actor_id", actorID)
	e := s.event(events.AdminDemoted)
	e.ActorID = actorID
	e.UserID = userID
	s.publish(ctx, e)
	return nil
}
