// Package template manages reusable campaign content.
package template

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sendquill/sendquill/internal/domain"
)

// Repository defines the data access contract for templates.
type Repository interface {
	Create(ctx context.Context, t *domain.Template) error
	// Get returns ErrNotFound if the template doesn't exist.
	Get(ctx context.Context, id string) (*domain.Template, error)
	List(ctx context.Context, userID string) ([]domain.Template, error)
}

// CreateInput holds the fields for a new template. Content may use any
// {{token}} placeholder.
type CreateInput struct {
	Name    string `json:"name" validate:"required,min=1,max=200"`
	Subject string `json:"subject" validate:"max=998"`
	Content string `json:"content" validate:"required"`
}

// Service implements template management.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService creates a template service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// Create stores a new template.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Template, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	t := &domain.Template{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      in.Name,
		Subject:   in.Subject,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a template owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Template, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

// List returns the user's templates.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Template, error) {
	return s.repo.List(ctx, userID)
}
