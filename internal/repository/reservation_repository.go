package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/library-reservations/internal/model"
)

// MySQLStore is the ReservationStore backed by MySQL.  Mutations run inside
// InnoDB transactions and lock the rows they change with SELECT ... FOR
// UPDATE.  All timestamp fields are stored in UTC.
type MySQLStore struct {
	db *sqlx.DB
}

// NewMySQLStore returns a MySQLStore bound to the given database.
func NewMySQLStore(db *sqlx.DB) *MySQLStore { return &MySQLStore{db: db} }

// reservationRow mirrors the reservations table for scanning.
type reservationRow struct {
	ID              uint64        `db:"id"`
	UserID          uint64        `db:"user_id"`
	VariantID       uint64        `db:"variant_id"`
	ReservationDate time.Time     `db:"reservation_date"`
	ExpirationDate  sql.NullTime  `db:"expiration_date"`
	Status          string        `db:"status"`
	ProcessedBy     sql.NullInt64 `db:"processed_by"`
	Extended        bool          `db:"extended"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

func (r reservationRow) toModel() model.Reservation {
	res := model.Reservation{
		ID:              r.ID,
		UserID:          r.UserID,
		VariantID:       r.VariantID,
		ReservationDate: r.ReservationDate.UTC(),
		Status:          model.Status(r.Status),
		Extended:        r.Extended,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.ExpirationDate.Valid {
		exp := r.ExpirationDate.Time.UTC()
		res.ExpirationDate = &exp
	}
	if r.ProcessedBy.Valid {
		pb := uint64(r.ProcessedBy.Int64)
		res.ProcessedBy = &pb
	}
	return res
}

func toModels(rows []reservationRow) []model.Reservation {
	out := make([]model.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

const reservationColumns = `id, user_id, variant_id, reservation_date, expiration_date,
       status, processed_by, extended, updated_at`

const (
	selectReservation = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`

	selectPendingByVariant = `SELECT ` + reservationColumns + `
FROM reservations
WHERE variant_id = ? AND status = 'Pending'
ORDER BY reservation_date ASC, id ASC`

	selectExpiredIDs = `SELECT id FROM reservations
WHERE status IN ('Pending','Available') AND expiration_date < ? AND id > ?
ORDER BY id ASC
LIMIT ?`

	insertReservation = `INSERT INTO reservations
    (user_id, variant_id, reservation_date, expiration_date, status, processed_by, extended)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateReservation = `UPDATE reservations
SET expiration_date = ?, status = ?, processed_by = ?, extended = ?
WHERE id = ?`
)

// sqlQuerier is satisfied by both *sqlx.DB and *sqlx.Tx.
type sqlQuerier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InTx begins a transaction, hands it to fn and commits when fn succeeds.
func (s *MySQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// GetReservation fetches one reservation by ID.
func (s *MySQLStore) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return getReservation(ctx, s.db, selectReservation, id)
}

// PendingByVariant lists the queue of a variant in FIFO order.
func (s *MySQLStore) PendingByVariant(ctx context.Context, variantID uint64) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, selectPendingByVariant, variantID); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

// QueueSnapshot reads the reservation and its variant's queue inside one
// read-only REPEATABLE READ transaction, so both reads share a snapshot.
func (s *MySQLStore) QueueSnapshot(ctx context.Context, reservationID uint64) (model.Reservation, []model.Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return model.Reservation{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := getReservation(ctx, tx, selectReservation, reservationID)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	var rows []reservationRow
	if err := tx.SelectContext(ctx, &rows, selectPendingByVariant, res.VariantID); err != nil {
		return model.Reservation{}, nil, err
	}
	return res, toModels(rows), nil
}

// ActiveExpiredBefore returns a batch of reservation IDs the sweeper should
// expire, using keyset pagination on the primary key.
func (s *MySQLStore) ActiveExpiredBefore(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	ids := []uint64{}
	if err := s.db.SelectContext(ctx, &ids, selectExpiredIDs, now.UTC(), afterID, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// Ping checks database connectivity.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// mysqlTx implements Tx on top of an open sqlx transaction.
type mysqlTx struct {
	tx *sqlx.Tx
}

// LockVariant takes an exclusive lock on the variant row.  Concurrent
// creators for the same variant queue up here until the holder commits, so
// the counters they read afterwards include each other's inserts.
func (t *mysqlTx) LockVariant(ctx context.Context, variantID uint64) (model.Variant, error) {
	return getVariant(ctx, t.tx, selectVariant+` FOR UPDATE`, variantID)
}

// GetForUpdate loads a reservation and locks its row.
func (t *mysqlTx) GetForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	return getReservation(ctx, t.tx, selectReservation+` FOR UPDATE`, id)
}

func (t *mysqlTx) PendingForUpdate(ctx context.Context, variantID uint64) ([]model.Reservation, error) {
	var rows []reservationRow
	if err := t.tx.SelectContext(ctx, &rows, selectPendingByVariant+` FOR UPDATE`, variantID); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (t *mysqlTx) Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error) {
	return readStock(ctx, t.tx, variantID, userID)
}

// Insert stores r and sets its ID.  A second active reservation for the same
// user and variant is rejected by the uq_reservations_active index.
func (t *mysqlTx) Insert(ctx context.Context, r *model.Reservation) error {
	result, err := t.tx.ExecContext(ctx, insertReservation,
		r.UserID, r.VariantID, r.ReservationDate.UTC(), nullTime(r.ExpirationDate),
		string(r.Status), nullUint(r.ProcessedBy), r.Extended,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return model.ErrDuplicateActiveReservation
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = uint64(id)
	return nil
}

// Update writes the mutable columns of r.
func (t *mysqlTx) Update(ctx context.Context, r *model.Reservation) error {
	result, err := t.tx.ExecContext(ctx, updateReservation,
		nullTime(r.ExpirationDate), string(r.Status), nullUint(r.ProcessedBy), r.Extended, r.ID,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return model.ErrDuplicateActiveReservation
		}
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 for an unchanged row too, so confirm it exists.
		if _, err := getReservation(ctx, t.tx, selectReservation, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func getReservation(ctx context.Context, q sqlQuerier, query string, id uint64) (model.Reservation, error) {
	var row reservationRow
	if err := q.GetContext(ctx, &row, query, id); err != nil {
		return model.Reservation{}, notFound(err, fmt.Sprintf("reservation %d", id))
	}
	return row.toModel(), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullUint(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
