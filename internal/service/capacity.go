package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/model"
)

// CapacityResult answers whether a number of seats can be booked on a
// session.  AlternativeSessions is only filled when CanBook is false.
type CapacityResult struct {
	CanBook             bool            `json:"can_book"`
	AvailableSeats      int             `json:"available_seats"`
	AlternativeSessions []model.Session `json:"alternative_sessions"`
}

// CapacityError is returned by Create when the seat reservation loses.  It
// unwraps to model.ErrCapacityExceeded and carries the fresh availability.
type CapacityError struct {
	Result CapacityResult
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d seats available", model.ErrCapacityExceeded, e.Result.AvailableSeats)
}

func (e *CapacityError) Unwrap() error { return model.ErrCapacityExceeded }

// CapacityChecker answers availability questions.  It never writes: the
// real reservation is the conditional update done by BookingService.Create,
// so a positive answer here is advice, not a hold.
type CapacityChecker struct {
	sessions SessionStore
	clock    clock.Clock
}

func NewCapacityChecker(sessions SessionStore, clk clock.Clock) *CapacityChecker {
	return &CapacityChecker{sessions: sessions, clock: clk}
}

// openSession loads a session and rejects anything not open for booking.
func (c *CapacityChecker) openSession(ctx context.Context, sessionID uint64, seats int) (model.Session, error) {
	if seats <= 0 {
		return model.Session{}, fmt.Errorf("%w: requested seats must be positive", model.ErrInvalidInput)
	}
	s, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if s.Status != model.SessionPublished {
		return model.Session{}, fmt.Errorf("%w: session not open for booking", model.ErrInvalidInput)
	}
	return s, nil
}

// CheckCapacity reports whether seats seats fit in the session.  When they
// do not, it lists later published sessions of the same show that can
// take them, earliest first.
func (c *CapacityChecker) CheckCapacity(ctx context.Context, sessionID uint64, seats int) (CapacityResult, error) {
	s, err := c.openSession(ctx, sessionID, seats)
	if err != nil {
		return CapacityResult{}, err
	}
	return c.result(ctx, s, "", seats)
}

// CheckPoolCapacity is CheckCapacity restricted to one pool.  Alternatives
// must admit the pool and have room in it.
func (c *CapacityChecker) CheckPoolCapacity(ctx context.Context, sessionID uint64, pool model.Pool, seats int) (CapacityResult, error) {
	if !pool.Valid() {
		return CapacityResult{}, fmt.Errorf("%w: unknown pool %q", model.ErrInvalidInput, pool)
	}
	s, err := c.openSession(ctx, sessionID, seats)
	if err != nil {
		return CapacityResult{}, err
	}
	if !s.Admits(pool) {
		return CapacityResult{}, fmt.Errorf("%w: %s session does not admit pool %s", model.ErrInvalidInput, s.SessionType, pool)
	}
	return c.result(ctx, s, pool, seats)
}

func (c *CapacityChecker) result(ctx context.Context, s model.Session, pool model.Pool, seats int) (CapacityResult, error) {
	available := s.Available()
	if pool != "" {
		available = s.PoolAvailable(pool)
	}
	res := CapacityResult{AvailableSeats: available, AlternativeSessions: []model.Session{}}
	if seats <= available {
		res.CanBook = true
		return res, nil
	}
	alts, err := c.sessions.ListAlternatives(ctx, s.ShowID, s.ID, seats, c.clock.Now())
	if err != nil {
		return CapacityResult{}, err
	}
	for _, a := range alts {
		if pool != "" && (!a.Admits(pool) || a.PoolAvailable(pool) < seats) {
			continue
		}
		res.AlternativeSessions = append(res.AlternativeSessions, a)
	}
	return res, nil
}
