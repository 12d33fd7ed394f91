package main

import (
	"github.com/iliyamo/library-reservations/internal/model"
	"github.com/iliyamo/library-reservations/internal/repository"
)

// seedDemoCatalogue fills an in-memory store with a few variants so a local
// run has something to reserve.
func seedDemoCatalogue(s *repository.MemoryStore) {
	s.PutVariant(model.Variant{ID: 1, BookID: 1, ISBN: "9780134190440", Title: "The Go Programming Language"},
		model.Copy{ID: 1, Status: model.CopyAvailable},
		model.Copy{ID: 2, Status: model.CopyOnLoan},
	)
	s.PutVariant(model.Variant{ID: 2, BookID: 1, ISBN: "9780134190563", Title: "The Go Programming Language (ebook)", HoldDays: 1},
		model.Copy{ID: 3, Status: model.CopyAvailable},
	)
	s.PutVariant(model.Variant{ID: 3, BookID: 2, ISBN: "9781491941294", Title: "Concurrency in Go"},
		model.Copy{ID: 4, Status: model.CopyOnLoan},
		model.Copy{ID: 5, Status: model.CopyLost},
	)
}
