package model

import (
	"context"
)

var (
	ErrCartNotFound    = NewError(ErrNotFound, "cart not found")
	ErrSessionRequired = NewValidationError("session", "cart session is required")
	ErrCartClosed      = NewError(ErrConflict, "cart has been closed")
)

// Cart is the persisted form of a browsing session's cart. Revision grows on
// every mutation so two carts with equal contents can still be told apart.
type Cart struct {
	Session  string     `json:"session"`
	Revision int        `json:"revision"`
	Items    []LineItem `json:"items"`
}

// CartStorage persists serialized carts. Load returns ErrCartNotFound when
// nothing was stored for the session.
type CartStorage interface {
	Load(ctx context.Context, session string) ([]byte, error)
	Save(ctx context.Context, session string, data []byte) error
	Delete(ctx context.Context, session string) error
}
