package repository

import (
	"context"
	"fmt"

	"github.com/iliyamo/library-reservations/internal/model"
)

// variantRow mirrors the book_variants table.
type variantRow struct {
	ID       uint64 `db:"id"`
	BookID   uint64 `db:"book_id"`
	ISBN     string `db:"isbn"`
	Title    string `db:"title"`
	HoldDays int    `db:"hold_days"`
}

func (v variantRow) toModel() model.Variant {
	return model.Variant{ID: v.ID, BookID: v.BookID, ISBN: v.ISBN, Title: v.Title, HoldDays: v.HoldDays}
}

// stockRow receives the counters computed by selectStock.
type stockRow struct {
	TotalCopies         int `db:"total_copies"`
	AvailableCopies     int `db:"available_copies"`
	PendingReservations int `db:"pending_reservations"`
	UserActive          int `db:"user_active"`
}

const (
	selectVariant = `SELECT id, book_id, isbn, title, hold_days FROM book_variants WHERE id = ?`

	selectVariantsByBook = `SELECT id, book_id, isbn, title, hold_days
FROM book_variants
WHERE book_id = ?
ORDER BY id ASC`

	// A single statement so that all four counters come from one snapshot.
	selectStock = `SELECT
    (SELECT COUNT(*) FROM book_copies
      WHERE variant_id = ? AND status NOT IN ('LOST','WITHDRAWN'))          AS total_copies,
    (SELECT COUNT(*) FROM book_copies
      WHERE variant_id = ? AND status = 'AVAILABLE')                        AS available_copies,
    (SELECT COUNT(*) FROM reservations
      WHERE variant_id = ? AND status IN ('Pending','Available'))           AS pending_reservations,
    (SELECT COUNT(*) FROM reservations
      WHERE variant_id = ? AND user_id = ? AND status IN ('Pending','Available')) AS user_active`
)

// GetVariant fetches a book variant by ID.
func (s *MySQLStore) GetVariant(ctx context.Context, id uint64) (model.Variant, error) {
	return getVariant(ctx, s.db, selectVariant, id)
}

// VariantsByBook lists every variant of a book.  An unknown book yields an
// empty slice.
func (s *MySQLStore) VariantsByBook(ctx context.Context, bookID uint64) ([]model.Variant, error) {
	var rows []variantRow
	if err := s.db.SelectContext(ctx, &rows, selectVariantsByBook, bookID); err != nil {
		return nil, err
	}
	out := make([]model.Variant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Stock reads copy and reservation counters for a variant.
func (s *MySQLStore) Stock(ctx context.Context, variantID, userID uint64) (model.Stock, error) {
	return readStock(ctx, s.db, variantID, userID)
}

func getVariant(ctx context.Context, q sqlQuerier, query string, id uint64) (model.Variant, error) {
	var row variantRow
	if err := q.GetContext(ctx, &row, query, id); err != nil {
		return model.Variant{}, notFound(err, fmt.Sprintf("variant %d", id))
	}
	return row.toModel(), nil
}

func readStock(ctx context.Context, q sqlQuerier, variantID, userID uint64) (model.Stock, error) {
	var row stockRow
	if err := q.GetContext(ctx, &row, selectStock, variantID, variantID, variantID, variantID, userID); err != nil {
		return model.Stock{}, err
	}
	return model.Stock{
		TotalCopies:         row.TotalCopies,
		AvailableCopies:     row.AvailableCopies,
		PendingReservations: row.PendingReservations,
		UserHasActive:       userID != 0 && row.UserActive > 0,
	}, nil
}
