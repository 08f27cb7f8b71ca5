// README: Start/complete/cancel transitions; each write is a CAS on (id, status, status_version).
package trip

import (
	"context"
	"fmt"

	"tripmatch/internal/types"
)

type StartCommand struct {
	TripID   types.ID
	CallerID types.ID
}

type CompleteCommand struct {
	TripID   types.ID
	CallerID types.ID
	// FinalPrice comes from the external pricing engine; nil keeps the estimate.
	FinalPrice *types.Money
}

type CancelCommand struct {
	TripID   types.ID
	CallerID types.ID
	Reason   string
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Trip, error) {
	return s.transition(ctx, cmd.TripID, StatusInProgress, func(t *Trip) (types.Role, error) {
		if !t.IsDriver(cmd.CallerID) {
			return "", fmt.Errorf("%w: only the assigned driver can start the trip", ErrUnauthorized)
		}
		return types.RoleDriver, nil
	}, &cmd.CallerID, nil, nil)
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	if cmd.FinalPrice != nil && cmd.FinalPrice.IsNegative() {
		return nil, fmt.Errorf("%w: FinalPrice must be >= 0", ErrValidation)
	}
	return s.transition(ctx, cmd.TripID, StatusCompleted, func(t *Trip) (types.Role, error) {
		if !t.IsDriver(cmd.CallerID) {
			return "", fmt.Errorf("%w: only the assigned driver can complete the trip", ErrUnauthorized)
		}
		return types.RoleDriver, nil
	}, &cmd.CallerID, nil, cmd.FinalPrice)
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Trip, error) {
	var reason *string
	if cmd.Reason != "" {
		if len(cmd.Reason) > 500 {
			return nil, fmt.Errorf("%w: Reason must satisfy max=500", ErrValidation)
		}
		reason = &cmd.Reason
	}
	return s.transition(ctx, cmd.TripID, StatusCancelled, func(t *Trip) (types.Role, error) {
		switch {
		case t.OwnerID == cmd.CallerID:
			return types.RoleOwner, nil
		case t.IsDriver(cmd.CallerID):
			return types.RoleDriver, nil
		default:
			return "", fmt.Errorf("%w: only the owner or the assigned driver can cancel", ErrUnauthorized)
		}
	}, &cmd.CallerID, reason, nil)
}

// transition checks existence, then the status edge, then the caller, and
// finally issues one conditional write. A lost CAS is reported as an illegal
// transition; the caller must refresh before trying again.
func (s *Service) transition(
	ctx context.Context,
	id types.ID,
	to Status,
	authorize func(*Trip) (types.Role, error),
	actorID *types.ID,
	reason *string,
	finalPrice *types.Money,
) (*Trip, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: cannot move trip from %s to %s", ErrIllegalTransition, t.Status, to)
	}
	role, err := authorize(t)
	if err != nil {
		return nil, err
	}
	if finalPrice != nil && finalPrice.Currency != t.Price.Currency {
		if finalPrice.Currency != "" {
			return nil, fmt.Errorf("%w: FinalPrice currency must be %s", ErrValidation, t.Price.Currency)
		}
		fp := *finalPrice
		fp.Currency = t.Price.Currency
		finalPrice = &fp
	}
	return s.apply(ctx, t, to, role, actorID, reason, finalPrice)
}

func (s *Service) apply(
	ctx context.Context,
	t *Trip,
	to Status,
	role types.Role,
	actorID *types.ID,
	reason *string,
	finalPrice *types.Money,
) (*Trip, error) {
	from := t.Status
	updated, err := s.store.UpdateStatus(ctx, Transition{
		TripID:     t.ID,
		From:       from,
		To:         to,
		Version:    t.StatusVersion,
		At:         s.now().UTC(),
		ActorRole:  role,
		Reason:     reason,
		FinalPrice: finalPrice,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: trip state changed concurrently", ErrIllegalTransition)
	}
	s.recordTransition(ctx, updated, from, role, actorID)
	return updated, nil
}
