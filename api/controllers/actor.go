package controllers

import (
	"net/http"

	"github.com/angelmondragon/escrow-backend/internal/actors"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

func actorFrom(r *http.Request) (actors.Actor, error) {
	actor, ok := actors.FromContext(r.Context())
	if !ok || !actor.Kind.IsValid() {
		return actors.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor missing from request")
	}
	return actor, nil
}
