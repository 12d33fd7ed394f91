package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/queue"
	"github.com/iliyamo/library-reservations/internal/repository"
)

// EventPublisher delivers reservation events once a change is committed.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationEvent) error
}

// Policy holds the tunable rules of the lifecycle.
type Policy struct {
	DefaultHold  time.Duration // expiration window when neither caller nor variant sets one
	ExtendWindow time.Duration // added to the expiration by Extend
	SweepBatch   int           // records read per page by ProcessExpired
}

// CreateInput is the request to place a reservation.  A zero UserID means
// the caller reserves for themselves.
type CreateInput struct {
	UserID         uint64
	VariantID      uint64
	ExpirationDate *time.Time
}

// UpdateInput is a staff edit.  Nil fields are left unchanged, except
// ProcessedBy which defaults to the acting staff member.
type UpdateInput struct {
	Status         *model.Status
	ExpirationDate *time.Time
	ProcessedBy    *uint64
}

// SearchInput filters the paged reservation listing.
type SearchInput struct {
	Keyword   string
	Status    string
	UserID    uint64
	VariantID uint64
	Page      int
	PageSize  int
}

// Page is one page of a reservation listing.
type Page struct {
	Data        []model.Reservation
	TotalCount  int64
	Page        int
	PageSize    int
	HasNextPage bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Lifecycle moves reservations through their state machine.  Every
// mutation runs in one store transaction that locks the rows it reads, so
// of two racing transitions on the same reservation the second one sees
// the first one's result.
type Lifecycle struct {
	store        repository.ReservationStore
	availability *Availability
	events       EventPublisher
	log          *zap.Logger
	policy       Policy
	now          func() time.Time
}

// Option customises a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle wires a Lifecycle.  events may be nil.
func NewLifecycle(store repository.ReservationStore, availability *Availability, events EventPublisher, log *zap.Logger, policy Policy, opts ...Option) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.DefaultHold <= 0 {
		policy.DefaultHold = 3 * 24 * time.Hour
	}
	if policy.ExtendWindow <= 0 {
		policy.ExtendWindow = 7 * 24 * time.Hour
	}
	if policy.SweepBatch <= 0 {
		policy.SweepBatch = 100
	}
	l := &Lifecycle{
		store:        store,
		availability: availability,
		events:       events,
		log:          log,
		policy:       policy,
		now:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// clock returns the current time in the precision the store keeps.
func (l *Lifecycle) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// Create places a Pending reservation.  Users reserve for themselves; staff
// may reserve on behalf of any user.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (model.Reservation, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return model.Reservation{}, model.ErrUnauthorized
	}
	if in.UserID == 0 {
		in.UserID = p.UserID
	}
	if in.UserID != p.UserID && !p.IsStaff() {
		return model.Reservation{}, fmt.Errorf("reserve for user %d: %w", in.UserID, model.ErrForbidden)
	}
	if in.VariantID == 0 {
		return model.Reservation{}, fmt.Errorf("variantId is required: %w", model.ErrValidation)
	}

	var created model.Reservation
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		v, err := tx.LockVariant(ctx, in.VariantID)
		if err != nil {
			return err
		}
		st, err := tx.Stock(ctx, in.VariantID, in.UserID)
		if err != nil {
			return err
		}
		if st.UserHasActive {
			return model.ErrDuplicateActiveReservation
		}
		if !l.availability.canReserve(st) {
			return fmt.Errorf("variant %d: %w", in.VariantID, model.ErrNotAvailable)
		}

		now := l.clock()
		exp := in.ExpirationDate
		if exp == nil {
			hold := l.policy.DefaultHold
			if v.HoldDays > 0 {
				hold = time.Duration(v.HoldDays) * 24 * time.Hour
			}
			d := now.Add(hold)
			exp = &d
		} else {
			d := exp.UTC().Truncate(time.Microsecond)
			exp = &d
		}
		created = model.Reservation{
			UserID:          in.UserID,
			VariantID:       in.VariantID,
			ReservationDate: now,
			ExpirationDate:  exp,
			Status:          model.StatusPending,
			UpdatedAt:       now,
		}
		if in.UserID != p.UserID {
			staff := p.UserID
			created.ProcessedBy = &staff
		}
		return tx.Insert(ctx, &created)
	})
	if err != nil {
		return model.Reservation{}, err
	}

	l.log.Info("reservation created",
		zap.Uint64("reservation_id", created.ID),
		zap.Uint64("user_id", created.UserID),
		zap.Uint64("variant_id", created.VariantID),
	)
	l.publish(ctx, queue.EventCreated, created, "")
	return created, nil
}

// Get returns a reservation visible to the caller.
func (l *Lifecycle) Get(ctx context.Context, id uint64) (model.Reservation, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return model.Reservation{}, model.ErrUnauthorized
	}
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if !p.IsStaff() && r.UserID != p.UserID {
		return model.Reservation{}, fmt.Errorf("reservation %d: %w", id, model.ErrForbidden)
	}
	return r, nil
}

// StaffCancel cancels a Pending or Available reservation.
func (l *Lifecycle) StaffCancel(ctx context.Context, id, staffID uint64) (model.Reservation, error) {
	actor, err := staffActor(ctx, staffID)
	if err != nil {
		return model.Reservation{}, err
	}
	return l.transition(ctx, id, "", func(r *model.Reservation) error {
		if err := moveTo(r, model.StatusCanceled); err != nil {
			return err
		}
		r.ProcessedBy = &actor
		return nil
	})
}

// MarkAvailable records that a copy has been set aside for a Pending
// reservation.
func (l *Lifecycle) MarkAvailable(ctx context.Context, id, staffID uint64) (model.Reservation, error) {
	actor, err := staffActor(ctx, staffID)
	if err != nil {
		return model.Reservation{}, err
	}
	return l.transition(ctx, id, "", func(r *model.Reservation) error {
		if err := moveTo(r, model.StatusAvailable); err != nil {
			return err
		}
		r.ProcessedBy = &actor
		return nil
	})
}

// MarkCollected hands an Available reservation over to its user.
func (l *Lifecycle) MarkCollected(ctx context.Context, id, staffID uint64) (model.Reservation, error) {
	actor, err := staffActor(ctx, staffID)
	if err != nil {
		return model.Reservation{}, err
	}
	return l.transition(ctx, id, "", func(r *model.Reservation) error {
		if err := moveTo(r, model.StatusCollected); err != nil {
			return err
		}
		r.ProcessedBy = &actor
		return nil
	})
}

// PromoteNext makes the head of a variant's queue Available.
func (l *Lifecycle) PromoteNext(ctx context.Context, variantID, staffID uint64) (model.Reservation, error) {
	actor, err := staffActor(ctx, staffID)
	if err != nil {
		return model.Reservation{}, err
	}
	var promoted model.Reservation
	err = l.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockVariant(ctx, variantID); err != nil {
			return err
		}
		pending, err := tx.PendingForUpdate(ctx, variantID)
		if err != nil {
			return err
		}
		ordered := Order(pending)
		if len(ordered) == 0 {
			return fmt.Errorf("queue of variant %d is empty: %w", variantID, model.ErrNotFound)
		}
		promoted = ordered[0]
		if err := moveTo(&promoted, model.StatusAvailable); err != nil {
			return err
		}
		promoted.ProcessedBy = &actor
		promoted.UpdatedAt = l.clock()
		return tx.Update(ctx, &promoted)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	l.log.Info("reservation promoted",
		zap.Uint64("reservation_id", promoted.ID),
		zap.Uint64("variant_id", variantID),
		zap.Uint64("staff_id", actor),
	)
	l.publish(ctx, queue.EventAvailable, promoted, model.StatusPending)
	return promoted, nil
}

// Update applies a staff edit.  Terminal reservations cannot be edited and
// status changes follow the state machine.
func (l *Lifecycle) Update(ctx context.Context, id uint64, in UpdateInput) (model.Reservation, error) {
	actor, err := staffActor(ctx, 0)
	if err != nil {
		return model.Reservation{}, err
	}
	return l.transition(ctx, id, "", func(r *model.Reservation) error {
		if r.Status.IsTerminal() {
			return fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, model.ErrInvalidTransition)
		}
		if in.ExpirationDate != nil {
			exp := in.ExpirationDate.UTC().Truncate(time.Microsecond)
			if exp.Before(r.ReservationDate) {
				return fmt.Errorf("expirationDate precedes reservationDate: %w", model.ErrValidation)
			}
			r.ExpirationDate = &exp
		}
		if in.Status != nil && *in.Status != r.Status {
			if err := moveTo(r, *in.Status); err != nil {
				return err
			}
		}
		pb := actor
		if in.ProcessedBy != nil {
			pb = *in.ProcessedBy
		}
		r.ProcessedBy = &pb
		return nil
	})
}

// Extend pushes the expiration of an active reservation forward by the
// extend window, once.  A reservation without an expiration gets now plus
// the window.
func (l *Lifecycle) Extend(ctx context.Context, id uint64) (model.Reservation, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return model.Reservation{}, model.ErrUnauthorized
	}
	return l.transition(ctx, id, queue.EventExtended, func(r *model.Reservation) error {
		if !p.IsStaff() && r.UserID != p.UserID {
			return fmt.Errorf("reservation %d: %w", r.ID, model.ErrForbidden)
		}
		if r.Status.IsTerminal() {
			return fmt.Errorf("reservation %d is %s: %w", r.ID, r.Status, model.ErrInvalidTransition)
		}
		if r.Extended {
			return fmt.Errorf("reservation %d: %w", r.ID, model.ErrAlreadyExtended)
		}
		base := l.clock()
		if r.ExpirationDate != nil {
			base = *r.ExpirationDate
		}
		exp := base.Add(l.policy.ExtendWindow)
		r.ExpirationDate = &exp
		r.Extended = true
		return nil
	})
}

// Search lists reservations for staff, newest first.
func (l *Lifecycle) Search(ctx context.Context, in SearchInput) (Page, error) {
	if _, err := staffActor(ctx, 0); err != nil {
		return Page{}, err
	}
	q := repository.SearchQuery{
		Keyword:   in.Keyword,
		UserID:    in.UserID,
		VariantID: in.VariantID,
	}
	if in.Status != "" {
		st, ok := model.ParseStatus(in.Status)
		if !ok {
			return Page{}, fmt.Errorf("unknown status %q: %w", in.Status, model.ErrValidation)
		}
		q.Status = st
	}
	return l.page(ctx, q, in.Page, in.PageSize)
}

// ListByUser lists the caller's own reservations, newest first.
func (l *Lifecycle) ListByUser(ctx context.Context, page, pageSize int) (Page, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Page{}, model.ErrUnauthorized
	}
	return l.page(ctx, repository.SearchQuery{UserID: p.UserID}, page, pageSize)
}

func (l *Lifecycle) page(ctx context.Context, q repository.SearchQuery, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page > math.MaxInt/pageSize {
		return Page{}, fmt.Errorf("page %d is out of range: %w", page, model.ErrValidation)
	}
	q.Page, q.PageSize = page, pageSize
	data, total, err := l.store.Search(ctx, q)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Data:        data,
		TotalCount:  total,
		Page:        page,
		PageSize:    pageSize,
		HasNextPage: int64(page*pageSize) < total,
	}, nil
}

// transition loads a reservation under lock, lets mutate change it and
// stores the result.  The event is published only after commit; an empty
// typ is derived from the status change.
func (l *Lifecycle) transition(ctx context.Context, id uint64, typ queue.EventType, mutate func(r *model.Reservation) error) (model.Reservation, error) {
	var (
		out  model.Reservation
		prev model.Status
	)
	err := l.store.InTx(ctx, func(tx repository.Tx) error {
		r, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev = r.Status
		if err := mutate(&r); err != nil {
			return err
		}
		r.UpdatedAt = l.clock()
		if err := tx.Update(ctx, &r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}

	if typ == "" {
		typ = queue.EventUpdated
		if out.Status != prev {
			typ = queue.EventForStatus(out.Status)
		}
	}
	l.log.Info("reservation changed",
		zap.Uint64("reservation_id", out.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(out.Status)),
		zap.String("event", string(typ)),
	)
	l.publish(ctx, typ, out, prev)
	return out, nil
}

func (l *Lifecycle) publish(ctx context.Context, typ queue.EventType, r model.Reservation, prev model.Status) {
	if l.events == nil {
		return
	}
	ev := queue.NewReservationEvent(typ, r, prev, l.clock())
	if err := l.events.Publish(ctx, ev); err != nil {
		l.log.Warn("publish reservation event failed",
			zap.String("event_id", ev.EventID),
			zap.String("type", string(typ)),
			zap.Uint64("reservation_id", r.ID),
			zap.Error(err),
		)
	}
}

// moveTo applies a state-machine transition.
func moveTo(r *model.Reservation, next model.Status) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("reservation %d: %s -> %s: %w", r.ID, r.Status, next, model.ErrInvalidTransition)
	}
	r.Status = next
	return nil
}

// staffActor returns the ID of the staff member acting in ctx.  A non-zero
// staffID must name the authenticated principal.
func staffActor(ctx context.Context, staffID uint64) (uint64, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return 0, model.ErrUnauthorized
	}
	if !p.IsStaff() {
		return 0, fmt.Errorf("role %q: %w", p.Role, model.ErrForbidden)
	}
	if staffID != 0 && staffID != p.UserID {
		return 0, fmt.Errorf("staffId %d does not match the caller: %w", staffID, model.ErrForbidden)
	}
	return p.UserID, nil
}
