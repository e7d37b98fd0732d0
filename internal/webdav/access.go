package webdav

import (
	"context"
	"errors"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/backend"
)

// CheckAccess asks the backend whether user holds priv on the ref's
// collection. With returnResult the answer comes back in the struct;
// otherwise a denial is a Forbidden error.
func (i *Intf) CheckAccess(ctx context.Context, user string, ref *Ref, priv acl.Priv, returnResult bool) (backend.CurrentAccess, error) {
	col := ref.Col
	if col == nil {
		return backend.CurrentAccess{}, ServerError("access check without collection: %s", ref.Path)
	}
	ca, err := i.BE.CheckAccess(ctx, user, col, priv, returnResult)
	if err != nil {
		if errors.Is(err, backend.ErrAccessDenied) {
			return backend.CurrentAccess{}, Forbidden("access denied: " + ref.Path)
		}
		return backend.CurrentAccess{}, ServerError("access check: %v", err)
	}
	return ca, nil
}
