package router

import (
	"net/http"

	"github.com/uberoi/giftledger/internal/allocation"
	"github.com/uberoi/giftledger/internal/auth"
	"github.com/uberoi/giftledger/internal/events"
	"github.com/uberoi/giftledger/internal/gifts"
	"github.com/uberoi/giftledger/internal/kyc"
	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/pricing"
	"github.com/uberoi/giftledger/internal/withdrawals"
)

// Handlers bundles the per-feature HTTP handlers the router mounts.
type Handlers struct {
	Auth        *auth.Handler
	Gifts       *gifts.Handler
	Ledger      *ledger.Handler
	Allocation  *allocation.Handler
	Events      *events.Handler
	Withdrawals *withdrawals.Handler
	KYC         *kyc.Handler
	Pricing     *pricing.Handler
}

// New returns an http.Handler that serves the API under /api/v1. Register,
// login, the payment callback and price reads are public; everything else
// goes through bearer auth.
func New(h Handlers, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	authed := middleware.BearerAuth(validator)

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)
	handle("PATCH "+base+"/account/default-target", h.Auth.SetDefaultTarget)

	handle("POST "+base+"/gifts", h.Gifts.Send)
	handle("GET "+base+"/gifts/received", h.Gifts.ListReceived)
	handle("GET "+base+"/gifts/sent", h.Gifts.ListSent)
	handle("POST "+base+"/gifts/{id}/cancel", h.Gifts.Cancel)
	// Payment provider callback, authenticated out of band.
	mux.HandleFunc("POST "+base+"/payments/gifts/{id}/paid", h.Gifts.MarkPaid)

	handle("GET "+base+"/ledger", h.Ledger.Snapshot)
	handle("GET "+base+"/ledger/allocations", h.Ledger.ListAllocations)
	handle("GET "+base+"/ledger/receipts", h.Ledger.ListReceipts)
	handle("POST "+base+"/allocations", h.Allocation.Allocate)

	handle("POST "+base+"/events", h.Events.Create)
	handle("GET "+base+"/events", h.Events.ListMine)
	handle("GET "+base+"/events/{id}", h.Events.Get)
	handle("GET "+base+"/events/{id}/withdrawals", h.Withdrawals.ListByEvent)
	handle("GET "+base+"/events/{id}/withdrawals/available", h.Withdrawals.Available)

	handle("POST "+base+"/withdrawals", h.Withdrawals.Create)
	handle("GET "+base+"/withdrawals/{id}", h.Withdrawals.Get)
	handle("POST "+base+"/withdrawals/{id}/approve", h.Withdrawals.Approve)
	handle("POST "+base+"/withdrawals/{id}/reject", h.Withdrawals.Reject)

	handle("POST "+base+"/kyc", h.KYC.Submit)
	handle("GET "+base+"/kyc", h.KYC.Status)
	handle("POST "+base+"/kyc/{id}/review", h.KYC.Review)

	mux.HandleFunc("GET "+base+"/prices/{target}", h.Pricing.Get)
	handle("PUT "+base+"/prices/{target}", h.Pricing.Set)

	return mux
}
