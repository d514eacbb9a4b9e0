package auth

import (
	"context"

	"licensehub/internal/models"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	User     *models.User
	Client   *models.Client
	Grants   []string
	DeviceID string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.User != nil && i.User.IsAdmin
}

func (i *Identity) UserID() string {
	if i == nil || i.User == nil {
		return ""
	}
	return i.User.ID
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// Subject returns the authenticated user id or "".
func Subject(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID()
}
