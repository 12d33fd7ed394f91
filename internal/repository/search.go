package repository

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-reservations/internal/model"
)

var mysqlDialect = goqu.Dialect("mysql")

// searchDataset builds the filtered FROM/WHERE part shared by the count and
// data queries.
func searchDataset(q SearchQuery) *goqu.SelectDataset {
	ds := mysqlDialect.
		From(goqu.T("reservations").As("r")).
		Join(goqu.T("book_variants").As("v"), goqu.On(goqu.I("v.id").Eq(goqu.I("r.variant_id")))).
		Prepared(true)

	var where []exp.Expression
	if q.Status != "" {
		where = append(where, goqu.I("r.status").Eq(string(q.Status)))
	}
	if q.UserID != 0 {
		where = append(where, goqu.I("r.user_id").Eq(q.UserID))
	}
	if q.VariantID != 0 {
		where = append(where, goqu.I("r.variant_id").Eq(q.VariantID))
	}
	if kw := strings.ToLower(strings.TrimSpace(q.Keyword)); kw != "" {
		pattern := "%" + kw + "%"
		where = append(where, goqu.Or(
			goqu.I("v.isbn").ILike(pattern),
			goqu.I("v.title").ILike(pattern),
		))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return ds
}

// Search returns one page of reservations matching q, newest first, and the
// total number of matches.
func (s *MySQLStore) Search(ctx context.Context, q SearchQuery) ([]model.Reservation, int64, error) {
	base := searchDataset(q)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, err
	}

	dataSQL, dataArgs, err := base.
		Select(
			goqu.I("r.id"), goqu.I("r.user_id"), goqu.I("r.variant_id"),
			goqu.I("r.reservation_date"), goqu.I("r.expiration_date"), goqu.I("r.status"),
			goqu.I("r.processed_by"), goqu.I("r.extended"), goqu.I("r.updated_at"),
		).
		Order(goqu.I("r.reservation_date").Desc(), goqu.I("r.id").Desc()).
		Limit(uint(q.PageSize)).
		Offset(uint(q.Offset())).
		ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, dataSQL, dataArgs...); err != nil {
		return nil, 0, err
	}
	return toModels(rows), total, nil
}
