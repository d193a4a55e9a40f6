// Package contact manages contact lists and the contacts in them.
package contact

import (
	"context"

	"github.com/sendquill/sendquill/internal/domain"
)

// Repository defines the data access contract for lists and contacts.
type Repository interface {
	CreateList(ctx context.Context, l *domain.ContactList) error
	// GetList returns ErrNotFound if the list doesn't exist.
	GetList(ctx context.Context, id string) (*domain.ContactList, error)
	ListLists(ctx context.Context, userID string) ([]domain.ContactList, error)

	// AddContacts inserts contacts into a list, skipping emails the list
	// already holds (case-insensitive). Returns the number inserted.
	AddContacts(ctx context.Context, listID string, contacts []domain.Contact) (int, error)
	ListContacts(ctx context.Context, listID string, limit, offset int) ([]domain.Contact, int, error)
}
