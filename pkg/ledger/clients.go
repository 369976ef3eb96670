package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/sharkpro/pkg/format"
	"github.com/mcclellann/sharkpro/pkg/models"
	"github.com/mcclellann/sharkpro/pkg/store"
)

// normalizeClient trims text fields and strips masks from documents.
func normalizeClient(c *models.Client) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.CPF = format.Digits(c.CPF)
	c.Phone = format.Digits(c.Phone)
	c.CEP = format.Digits(c.CEP)
	c.State = strings.ToUpper(strings.TrimSpace(c.State))
}

func validateClient(c *models.Client) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidClient)
	}
	if !format.ValidCPF(c.CPF) {
		return fmt.Errorf("%w: cpf %q is not valid", ErrInvalidClient, c.CPF)
	}
	if c.Email != "" && !format.ValidEmail(c.Email) {
		return fmt.Errorf("%w: email %q is not valid", ErrInvalidClient, c.Email)
	}
	return nil
}

// CreateClient validates and stores a new client.
func (l *Ledger) CreateClient(ctx context.Context, c *models.Client) (*models.Client, error) {
	normalizeClient(c)
	if err := validateClient(c); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	c.ID = uuid.New()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := l.storage.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	l.logger.WithField("client_id", c.ID).Info("Client created")
	return c, nil
}

// UpdateClient replaces the editable fields of a client.
func (l *Ledger) UpdateClient(ctx context.Context, id uuid.UUID, c *models.Client) (*models.Client, error) {
	current, err := l.storage.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	normalizeClient(c)
	if err := validateClient(c); err != nil {
		return nil, err
	}

	c.ID = current.ID
	c.OwnerID = current.OwnerID
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = l.clock.Now()
	if err := l.storage.UpdateClient(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteClient removes a client with its loans.
func (l *Ledger) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteClient(ctx, id); err != nil {
		return err
	}
	l.logger.WithField("client_id", id).Info("Client deleted")
	return nil
}

func (l *Ledger) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	return l.storage.GetClient(ctx, id)
}

// ListClients searches clients; masks in the CPF filter are ignored.
func (l *Ledger) ListClients(ctx context.Context, filter store.ClientFilter) ([]*models.Client, error) {
	filter.CPF = format.Digits(filter.CPF)
	filter.Name = strings.TrimSpace(filter.Name)
	return l.storage.ListClients(ctx, filter)
}

// FindClientByCPF returns the client with exactly this CPF, or nil when none exists.
func (l *Ledger) FindClientByCPF(ctx context.Context, ownerID, cpf string) (*models.Client, error) {
	c, err := l.storage.GetClientByCPF(ctx, ownerID, format.Digits(cpf))
	if errors.Is(err, store.ErrClientNotFound) {
		return nil, nil
	}
	return c, err
}
