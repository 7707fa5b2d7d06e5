package web

import (
	"github.com/dukex/timelock/pkg/authz"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

const (
	// HeaderActorID identifies the caller.
	HeaderActorID = "X-Actor-Id"
	// HeaderActorRole carries the caller's role, trusted verbatim.
	HeaderActorRole = "X-Actor-Role"

	actorLocal = "actor"
)

// NewIdentityMiddleware extracts the caller's identity from the request
// headers. Both headers must be present; the role is passed through as-is and
// unknown roles fail closed at the service layer.
func NewIdentityMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(HeaderActorID)
		role := c.Get(HeaderActorRole)

		if id == "" || role == "" {
			problem := problems.NewStatusProblem(401).
				WithInstance(c.Path()).
				WithType("missing_identity").
				WithDetail("X-Actor-Id and X-Actor-Role headers are required")

			return c.Status(fiber.StatusUnauthorized).JSON(problem)
		}

		c.Locals(actorLocal, authz.Actor{ID: id, Role: authz.Role(role)})

		return c.Next()
	}
}

// actorFromContext returns the actor stored by the identity middleware.
func actorFromContext(c fiber.Ctx) authz.Actor {
	actor, _ := c.Locals(actorLocal).(authz.Actor)

	return actor
}
