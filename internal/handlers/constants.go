package handlers

const (
	// identityContextKey holds the caller's identity.Identity in the gin context.
	identityContextKey = "identity"

	MsgInvalidRequest      = "Invalid request body"
	MsgUnauthorized        = "Unauthorized"
	MsgTooManyRequests     = "Too many requests"
	MsgInternalServerError = "Internal server error"
)
