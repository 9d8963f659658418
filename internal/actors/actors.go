// Package actors models who is calling an escrow operation and what they may
// do to a given purchase.
package actors

import (
	"context"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

type Kind string

const (
	KindUser   Kind = "user"
	KindAdmin  Kind = "admin"
	KindSystem Kind = "system"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindUser, KindAdmin, KindSystem:
		return true
	}
	return false
}

// Actor is the authenticated caller. System actors carry no user id.
type Actor struct {
	Kind   Kind
	UserID uuid.UUID
}

func User(id uuid.UUID) Actor  { return Actor{Kind: KindUser, UserID: id} }
func Admin(id uuid.UUID) Actor { return Actor{Kind: KindAdmin, UserID: id} }
func System() Actor            { return Actor{Kind: KindSystem} }

// Capability is a role an actor holds relative to one purchase.
type Capability uint8

const (
	Buyer Capability = 1 << iota
	Seller
	AdminCap
	SystemCap
)

func (c Capability) String() string {
	switch c {
	case Buyer:
		return "buyer"
	case Seller:
		return "seller"
	case AdminCap:
		return "admin"
	case SystemCap:
		return "system"
	}
	return "unknown"
}

// Capabilities is a set of Capability bits.
type Capabilities uint8

func (c Capabilities) Has(want Capability) bool {
	return uint8(c)&uint8(want) != 0
}

// Participants identifies the two sides of a purchase.
type Participants struct {
	BuyerID  uuid.UUID
	SellerID uuid.UUID
}

// CapabilitiesFor resolves what a may do on a purchase between p's parties.
func (a Actor) CapabilitiesFor(p Participants) Capabilities {
	var caps uint8
	switch a.Kind {
	case KindSystem:
		caps |= uint8(SystemCap)
	case KindAdmin:
		caps |= uint8(AdminCap)
	}
	if a.UserID != uuid.Nil {
		if a.UserID == p.BuyerID {
			caps |= uint8(Buyer)
		}
		if a.UserID == p.SellerID {
			caps |= uint8(Seller)
		}
	}
	return Capabilities(caps)
}

// Require fails with FORBIDDEN unless a holds at least one of allowed.
func (a Actor) Require(p Participants, allowed ...Capability) error {
	caps := a.CapabilitiesFor(p)
	for _, want := range allowed {
		if caps.Has(want) {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor may not perform this operation")
}

// Ref is the string form persisted on audit columns such as confirmed_by.
func (a Actor) Ref() string {
	if a.Kind == KindSystem || a.UserID == uuid.Nil {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.UserID.String()
}

// UserIDPtr returns nil for system actors.
func (a Actor) UserIDPtr() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

type ctxKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}
