package common

const (
	// APIPrefix is the path prefix of every Remote API route.
	APIPrefix = "/api/v1"

	// AuthorizationHeader carries "Bearer <jwt>" on every authenticated request.
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "

	// SinceQueryParam is the ListSince cursor, RFC 3339 with nanoseconds.
	SinceQueryParam = "since"
)
