package repository

import (
	"context"
	"fmt"

	"emilock-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type AdminRepository interface {
	Create(ctx context.Context, admin *domain.AdminUser) error
	FindByEmail(ctx context.Context, email string) (*domain.AdminUser, error)
	FindByID(ctx context.Context, id string) (*domain.AdminUser, error)
	FindByUsername(ctx context.Context, username string) (*domain.AdminUser, error)
	Update(ctx context.Context, admin *domain.AdminUser) error
	List(ctx context.Context) ([]*domain.AdminUser, error)
}

type adminDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.AdminUser
}

type adminRepository struct {
	client *kivik.Client
	dbName string
}

func NewAdminRepository(client *kivik.Client, dbName string) AdminRepository {
	return &adminRepository{
		client: client,
		dbName: dbName,
	}
}

func adminDocID(id string) string {
	return fmt.Sprintf("admin:%s", id)
}

func (r *adminRepository) Create(ctx context.Context, admin *domain.AdminUser) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, adminDocID(admin.ID), adminDoc{DocType: docTypeAdmin, AdminUser: *admin})
	if err != nil {
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}

	return nil
}

func (r *adminRepository) findOne(ctx context.Context, field, value string) (*domain.AdminUser, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeAdmin,
			field:      value,
		},
		"limit": 1,
	}

	docs, err := scanAll[adminDoc](db.Find(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to query admin by %s: %w", field, err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return &docs[0].AdminUser, nil
}

func (r *adminRepository) FindByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	return r.findOne(ctx, "email", email)
}

func (r *adminRepository) FindByUsername(ctx context.Context, username string) (*domain.AdminUser, error) {
	return r.findOne(ctx, "username", username)
}

func (r *adminRepository) FindByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	db := r.client.DB(r.dbName)

	var doc adminDoc
	if err := db.Get(ctx, adminDocID(id)).ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find admin by ID: %w", err)
	}

	return &doc.AdminUser, nil
}

func (r *adminRepository) Update(ctx context.Context, admin *domain.AdminUser) error {
	db := r.client.DB(r.dbName)
	docID := adminDocID(admin.ID)

	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch admin for update: %w", err)
	}

	if _, err := db.Put(ctx, docID, adminDoc{Rev: rev, DocType: docTypeAdmin, AdminUser: *admin}); err != nil {
		if isConflict(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update admin: %w", err)
	}

	return nil
}

func (r *adminRepository) List(ctx context.Context) ([]*domain.AdminUser, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{"doc_type": docTypeAdmin},
	}

	docs, err := scanAll[adminDoc](db.Find(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}

	admins := make([]*domain.AdminUser, 0, len(docs))
	for _, d := range docs {
		admins = append(admins, &d.AdminUser)
	}
	return admins, nil
}
