package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type claimsKey struct{}

// NewContext returns a copy of ctx carrying claims.
func NewContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext extracts auth claims from the context, if present.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// Subject returns the authenticated user id. VerifyToken has already
// checked that it parses.
func (c *Claims) Subject() bson.ObjectID {
	id, _ := bson.ObjectIDFromHex(c.UserID)
	return id
}
