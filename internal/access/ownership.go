package access

import (
	"errors"
	"net/http"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// ErrResourceNotFound is returned by a Loader when the target does not exist.
var ErrResourceNotFound = errors.New("resource not found")

// Owned is a resource that records the user it belongs to. An empty owner
// means the resource predates ownership tracking.
type Owned interface {
	OwnerID() string
}

// Loader fetches the resource a request targets.
type Loader func(r *http.Request) (Owned, error)

// Owns loads the target resource and allows the request only for admins
// and the resource's owner. Resources without an owner are admin-only.
// The loaded resource is placed in State.Resource.
func (g *Gate) Owns(load Loader) Stage {
	return func(r *http.Request, prior State) (State, *Rejection) {
		res, err := load(r)
		if err != nil {
			if errors.Is(err, ErrResourceNotFound) {
				return prior, reject(http.StatusNotFound, CodeNotFound, "resource not found")
			}
			g.logger.Error("loading resource for ownership check failed", "path", r.URL.Path, "error", err)
			return prior, reject(http.StatusInternalServerError, CodeInternal, "internal server error")
		}
		prior.Resource = res

		if !g.opts.MultiUser {
			return prior, nil
		}
		if prior.Identity == nil {
			return prior, reject(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		}
		if prior.Identity.IsAdmin() {
			return prior, nil
		}

		owner := res.OwnerID()
		if owner == "" || owner != prior.Identity.UserID {
			return prior, reject(http.StatusForbidden, CodeForbidden, "access denied")
		}
		return prior, nil
	}
}

// noOwner never equals a real user id, so a query scoped to it matches nothing.
const noOwner = "\x00no-owner"

// BuildUserQuery scopes a list query to the identity's own rows. Admins
// see every row only when viewAll is set. A nil identity gets a filter
// that matches nothing. base is not modified.
func (g *Gate) BuildUserQuery(base auth.Query, id *auth.Identity, viewAll bool) auth.Query {
	q := base.Clone()
	switch {
	case id == nil:
		q[auth.OwnerKey] = noOwner
	case id.IsAdmin() && viewAll:
		delete(q, auth.OwnerKey)
	default:
		q[auth.OwnerKey] = id.UserID
	}
	return q
}
