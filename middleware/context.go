package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
)

// Claims represents the operator claims carried by an ops API token
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the one assigned by the router
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// Operator names the authenticated caller, or "anonymous"
func Operator(ctx context.Context) string {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return "anonymous"
	}
	if claims.Email != "" {
		return claims.Email
	}
	if claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}
