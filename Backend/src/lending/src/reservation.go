package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Transactor interface {
	InTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error
}

type Inventory interface {
	GetGun(ctx context.Context, id string) (Gun, error)
	GetAmmo(ctx context.Context, id string) (Ammo, error)
	AdjustGunAmount(ctx context.Context, q Querier, id string, delta int) error
}

type Ledger interface {
	Get(ctx context.Context, key LendingKey) (Lending, error)
	List(ctx context.Context) ([]Lending, error)
	ListByUser(ctx context.Context, userID string) ([]Lending, error)
	ListByGun(ctx context.Context, gunID string) ([]Lending, error)
	ListByAmmo(ctx context.Context, ammoID string) ([]Lending, error)
	Insert(ctx context.Context, q Querier, l Lending) error
	Delete(ctx context.Context, q Querier, key LendingKey) error
	Update(ctx context.Context, q Querier, oldKey LendingKey, l Lending) error
}

type UserLookup interface {
	GetByID(ctx context.Context, id string) (User, error)
	Exists(ctx context.Context, q Querier, id string) error
}

type CacheInvalidator interface {
	InvalidateGuns(ctx context.Context, ids ...string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateGuns(context.Context, ...string) {}

type ReservationDeps struct {
	Tx        Transactor
	Inventory Inventory
	Ledger    Ledger
	Users     UserLookup
	Events    Publisher
	Cache     CacheInvalidator
	Logger    zerolog.Logger
}

// ReservationService creates, amends and cancels lendings. Every change to
// gun stock and to the ledger happens in one transaction.
type ReservationService struct {
	tx        Transactor
	inventory Inventory
	ledger    Ledger
	users     UserLookup
	events    Publisher
	cache     CacheInvalidator
	tracer    trace.Tracer
	log       zerolog.Logger
	now       func() time.Time
}

func NewReservationService(d ReservationDeps) *ReservationService {
	s := &ReservationService{
		tx:        d.Tx,
		inventory: d.Inventory,
		ledger:    d.Ledger,
		users:     d.Users,
		events:    d.Events,
		cache:     d.Cache,
		tracer:    otel.Tracer("gunlender/lending"),
		log:       d.Logger.With().Str("component", "reservations").Logger(),
		now:       time.Now,
	}
	if s.events == nil {
		s.events = noopPublisher{}
	}
	if s.cache == nil {
		s.cache = noopInvalidator{}
	}
	return s
}

type LendingRequest struct {
	UserID          string    `json:"userId"`
	GunID           string    `json:"gunId"`
	AmmoID          string    `json:"ammoId"`
	AmmoAmount      int       `json:"ammoAmount"`
	ReservationDate time.Time `json:"reservationDate"`
}

type AmendRequest struct {
	GunID           string    `json:"gunId"`
	AmmoID          string    `json:"ammoId"`
	AmmoAmount      int       `json:"ammoAmount"`
	ReservationDate time.Time `json:"reservationDate"`
}

type LendingFilter struct {
	GunID  string
	AmmoID string
}

func (s *ReservationService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *ReservationService) reservationDate(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

// Create lends one unit of a gun together with ammoAmount rounds.
func (s *ReservationService) Create(ctx context.Context, caller CallerContext, req LendingRequest) (l Lending, err error) {
	if req.UserID == "" {
		req.UserID = caller.UserID()
	}
	ctx, span := s.startSpan(ctx, "lending.create",
		attribute.String("lending.user", req.UserID),
		attribute.String("lending.gun", req.GunID),
		attribute.String("lending.ammo", req.AmmoID))
	defer func() { endSpan(span, err) }()

	if err := caller.Authorize(OpCreateLending, req.UserID); err != nil {
		return Lending{}, err
	}
	key := LendingKey{UserID: req.UserID, GunID: req.GunID, AmmoID: req.AmmoID}
	if err := key.validate(); err != nil {
		return Lending{}, err
	}
	if req.AmmoAmount < 0 {
		return Lending{}, fmt.Errorf("%w: ammoAmount cannot be negative", ErrInvalidArgument)
	}
	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		return Lending{}, err
	}

	gun, err := s.inventory.GetGun(ctx, req.GunID)
	if err != nil {
		return Lending{}, err
	}
	ammo, err := s.inventory.GetAmmo(ctx, req.AmmoID)
	if err != nil {
		return Lending{}, err
	}
	if gun.Amount <= 0 {
		return Lending{}, ExhaustedError{GunID: gun.ID, Avail: gun.Amount}
	}

	l = Lending{
		UserID:          req.UserID,
		GunID:           gun.ID,
		AmmoID:          ammo.ID,
		AmmoAmount:      req.AmmoAmount,
		ReservationDate: s.reservationDate(req.ReservationDate),
		TotalPrice:      TotalPrice(gun.Price, ammo.Price, req.AmmoAmount),
	}
	err = s.tx.InTx(ctx, "create lending", func(ctx context.Context, tx *sql.Tx) error {
		// the owner may have been deleted since the lookup above
		if err := s.users.Exists(ctx, tx, req.UserID); err != nil {
			return err
		}
		if err := s.inventory.AdjustGunAmount(ctx, tx, gun.ID, -1); err != nil {
			return err
		}
		return s.ledger.Insert(ctx, tx, l)
	})
	if err != nil {
		s.logFailure(err, "create", key)
		return Lending{}, err
	}

	s.log.Info().Str("lending", key.String()).Str("total", l.TotalPrice.String()).Str("by", caller.UserID()).Msg("lending created")
	s.afterCommit(ctx, RKLendingCreated, LendingEvent{Lending: l, Actor: caller.UserID()}, gun.ID)
	return l, nil
}

// Cancel deletes the lending and puts the gun back. If the gun was removed
// from the catalog meanwhile the lending is still released.
func (s *ReservationService) Cancel(ctx context.Context, caller CallerContext, key LendingKey) (l Lending, err error) {
	ctx, span := s.startSpan(ctx, "lending.cancel", attribute.String("lending.key", key.String()))
	defer func() { endSpan(span, err) }()

	if err := key.validate(); err != nil {
		return Lending{}, err
	}
	l, err = s.ledger.Get(ctx, key)
	if err != nil {
		return Lending{}, err
	}
	if err := caller.Authorize(OpCancelLending, l.UserID); err != nil {
		return Lending{}, err
	}

	restocked := true
	err = s.tx.InTx(ctx, "cancel lending", func(ctx context.Context, tx *sql.Tx) error {
		if err := s.ledger.Delete(ctx, tx, key); err != nil {
			return err
		}
		err := s.inventory.AdjustGunAmount(ctx, tx, key.GunID, 1)
		if errors.Is(err, ErrNotFound) {
			restocked = false
			return nil
		}
		return err
	})
	if err != nil {
		s.logFailure(err, "cancel", key)
		return Lending{}, err
	}
	if !restocked {
		s.log.Warn().Str("lending", key.String()).Msg("gun no longer exists, lending released without restock")
	}

	s.log.Info().Str("lending", key.String()).Str("by", caller.UserID()).Msg("lending cancelled")
	s.afterCommit(ctx, RKLendingCancelled, LendingEvent{Lending: l, Actor: caller.UserID(), Restocked: &restocked}, key.GunID)
	return l, nil
}

// Amend moves a lending to a new gun/ammo pair and reprices it.
func (s *ReservationService) Amend(ctx context.Context, caller CallerContext, oldKey LendingKey, req AmendRequest) (l Lending, err error) {
	ctx, span := s.startSpan(ctx, "lending.amend",
		attribute.String("lending.key", oldKey.String()),
		attribute.String("lending.new_gun", req.GunID),
		attribute.String("lending.new_ammo", req.AmmoID))
	defer func() { endSpan(span, err) }()

	if err := oldKey.validate(); err != nil {
		return Lending{}, err
	}
	newKey := LendingKey{UserID: oldKey.UserID, GunID: req.GunID, AmmoID: req.AmmoID}
	if err := newKey.validate(); err != nil {
		return Lending{}, err
	}
	if req.AmmoAmount < 0 {
		return Lending{}, fmt.Errorf("%w: ammoAmount cannot be negative", ErrInvalidArgument)
	}

	old, err := s.ledger.Get(ctx, oldKey)
	if err != nil {
		return Lending{}, err
	}
	if err := caller.Authorize(OpAmendLending, old.UserID); err != nil {
		return Lending{}, err
	}

	newGun, err := s.inventory.GetGun(ctx, req.GunID)
	if err != nil {
		return Lending{}, err
	}
	if _, err := s.inventory.GetGun(ctx, old.GunID); err != nil {
		return Lending{}, err
	}
	newAmmo, err := s.inventory.GetAmmo(ctx, req.AmmoID)
	if err != nil {
		return Lending{}, err
	}
	if newGun.Amount <= 0 {
		return Lending{}, ExhaustedError{GunID: newGun.ID, Avail: newGun.Amount}
	}

	l = Lending{
		UserID:          old.UserID,
		GunID:           newGun.ID,
		AmmoID:          newAmmo.ID,
		AmmoAmount:      req.AmmoAmount,
		ReservationDate: s.reservationDate(req.ReservationDate),
		TotalPrice:      TotalPrice(newGun.Price, newAmmo.Price, req.AmmoAmount),
	}
	gunChanged := newGun.ID != old.GunID
	err = s.tx.InTx(ctx, "amend lending", func(ctx context.Context, tx *sql.Tx) error {
		if gunChanged {
			if err := s.inventory.AdjustGunAmount(ctx, tx, old.GunID, 1); err != nil {
				return err
			}
			if err := s.inventory.AdjustGunAmount(ctx, tx, newGun.ID, -1); err != nil {
				return err
			}
		}
		return s.ledger.Update(ctx, tx, oldKey, l)
	})
	if err != nil {
		s.logFailure(err, "amend", oldKey)
		return Lending{}, err
	}

	s.log.Info().Str("from", oldKey.String()).Str("to", l.Key().String()).Str("total", l.TotalPrice.String()).Msg("lending amended")
	prev := oldKey
	s.afterCommit(ctx, RKLendingAmended, LendingEvent{Lending: l, Actor: caller.UserID(), Previous: &prev}, old.GunID, newGun.ID)
	return l, nil
}

func (s *ReservationService) Get(ctx context.Context, caller CallerContext, key LendingKey) (Lending, error) {
	if err := caller.Authorize(OpReadLending, key.UserID); err != nil {
		return Lending{}, err
	}
	if err := key.validate(); err != nil {
		return Lending{}, err
	}
	return s.ledger.Get(ctx, key)
}

// List returns every lending for administrators and the caller's own
// lendings for everyone else. Filtering by gun or ammo is admin only.
func (s *ReservationService) List(ctx context.Context, caller CallerContext, f LendingFilter) ([]Lending, error) {
	if f.GunID != "" || f.AmmoID != "" {
		if err := caller.Authorize(OpListAllLendings, ""); err != nil {
			return nil, err
		}
		var (
			out []Lending
			err error
		)
		if f.GunID != "" {
			out, err = s.ledger.ListByGun(ctx, f.GunID)
		} else {
			out, err = s.ledger.ListByAmmo(ctx, f.AmmoID)
		}
		if err != nil || f.GunID == "" || f.AmmoID == "" {
			return out, err
		}
		filtered := out[:0]
		for _, l := range out {
			if l.AmmoID == f.AmmoID {
				filtered = append(filtered, l)
			}
		}
		return filtered, nil
	}
	if caller.Authorize(OpListAllLendings, "") == nil {
		return s.ledger.List(ctx)
	}
	if err := caller.Authorize(OpListOwnLendings, caller.UserID()); err != nil {
		return nil, err
	}
	return s.ledger.ListByUser(ctx, caller.UserID())
}

func (s *ReservationService) afterCommit(ctx context.Context, rk string, ev LendingEvent, gunIDs ...string) {
	s.cache.InvalidateGuns(ctx, gunIDs...)
	ev.Type = rk
	ev.Timestamp = s.now().UTC()
	if err := s.events.Publish(ctx, rk, ev); err != nil {
		s.log.Warn().Err(err).Str("rk", rk).Msg("publish lending event failed")
	}
}

func (s *ReservationService) logFailure(err error, op string, key LendingKey) {
	ev := s.log.Info()
	if errors.Is(err, ErrStoreFailure) {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", op).Str("lending", key.String()).Msg("lending rolled back")
}
