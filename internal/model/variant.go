package model

// Variant is a specific edition or printing of a book (ISBN level).  A
// variant owns physical copies and is the unit reservations are made for.
type Variant struct {
	ID       uint64 // book_variants.id
	BookID   uint64 // book_variants.book_id
	ISBN     string // book_variants.isbn
	Title    string // book_variants.title
	HoldDays int    // book_variants.hold_days, 0 means use the service default
}

// CopyStatus is the circulation state of one physical copy.  It is owned by
// the circulation system and only read here.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyOnLoan    CopyStatus = "ON_LOAN"
	CopyReserved  CopyStatus = "RESERVED"
	CopyLost      CopyStatus = "LOST"
	CopyWithdrawn CopyStatus = "WITHDRAWN"
)

// Copy is one physical item of a variant.
type Copy struct {
	ID        uint64     // book_copies.id
	VariantID uint64     // book_copies.variant_id
	Status    CopyStatus // book_copies.status
}

// InCollection reports whether the copy counts towards the variant's total.
func (c Copy) InCollection() bool {
	return c.Status != CopyLost && c.Status != CopyWithdrawn
}

// Stock is a consistent snapshot of a variant's copies and reservations,
// optionally from the point of view of one user.
type Stock struct {
	TotalCopies         int
	AvailableCopies     int
	PendingReservations int
	UserHasActive       bool
}
