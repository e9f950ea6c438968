package repository

import (
	"context"
	"fmt"
	"sort"

	"emilock-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type CustomerRepository interface {
	// Create stores a new customer. ErrDuplicateIMEI is returned when imei1
	// is already bound, ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, customer *domain.Customer) error
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
	// FindByIMEI matches the verified imei1 first, then expectedImei.
	FindByIMEI(ctx context.Context, imei string) (*domain.Customer, error)
	// List returns the customers of one dealer, or all when dealerID is empty.
	List(ctx context.Context, dealerID string) ([]*domain.Customer, error)
	// Update applies mutate as a single-document conditional update and
	// returns the committed record.
	Update(ctx context.Context, id string, mutate Mutator[domain.Customer]) (*domain.Customer, error)
	Delete(ctx context.Context, id string) error
}

type customerDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Customer
}

func customerDocID(id string) string {
	return fmt.Sprintf("customer:%s", id)
}

type customerRepository struct {
	client *kivik.Client
	dbName string
}

func NewCustomerRepository(client *kivik.Client, dbName string) CustomerRepository {
	return &customerRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	db := r.client.DB(r.dbName)

	claimed := false
	if customer.IMEI1 != "" {
		var err error
		if claimed, err = claimIMEI(ctx, db, customer.IMEI1, customer.ID); err != nil {
			return err
		}
	}

	docID := customerDocID(customer.ID)
	_, err := db.Put(ctx, docID, customerDoc{DocType: docTypeCustomer, Customer: *customer})
	if err != nil {
		if claimed {
			_ = releaseIMEI(ctx, db, customer.IMEI1, customer.ID)
		}
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}

	return nil
}

func (r *customerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	doc, err := r.get(ctx, r.client.DB(r.dbName), id)
	if err != nil {
		return nil, err
	}
	return &doc.Customer, nil
}

func (r *customerRepository) get(ctx context.Context, db *kivik.DB, id string) (*customerDoc, error) {
	var doc customerDoc
	if err := db.Get(ctx, customerDocID(id)).ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return &doc, nil
}

func (r *customerRepository) FindByIMEI(ctx context.Context, imei string) (*domain.Customer, error) {
	db := r.client.DB(r.dbName)

	customerID, err := lookupIMEIClaim(ctx, db, imei)
	if err == nil {
		return r.FindByID(ctx, customerID)
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("failed to query imei claim: %w", err)
	}

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":     docTypeCustomer,
			"expectedImei": imei,
		},
	}

	docs, err := scanAll[customerDoc](db.Find(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to query customer by imei: %w", err)
	}
	matches := make([]*domain.Customer, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, &d.Customer)
	}
	return pickExpected(matches)
}

// pickExpected chooses among customers sharing an expectedImei: one still
// waiting for enrollment wins, then the oldest record, then the lowest id.
func pickExpected(matches []*domain.Customer) (*domain.Customer, error) {
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.IsEnrolled != b.IsEnrolled {
			return !a.IsEnrolled
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matches[0], nil
}

func (r *customerRepository) List(ctx context.Context, dealerID string) ([]*domain.Customer, error) {
	db := r.client.DB(r.dbName)

	selector := map[string]interface{}{
		"doc_type": docTypeCustomer,
	}
	if dealerID != "" {
		selector["dealerId"] = dealerID
	}

	docs, err := scanAll[customerDoc](db.Find(ctx, map[string]interface{}{"selector": selector}))
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	customers := make([]*domain.Customer, 0, len(docs))
	for _, d := range docs {
		customers = append(customers, &d.Customer)
	}
	return customers, nil
}

func (r *customerRepository) Update(ctx context.Context, id string, mutate Mutator[domain.Customer]) (*domain.Customer, error) {
	db := r.client.DB(r.dbName)
	docID := customerDocID(id)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := r.get(ctx, db, id)
		if err != nil {
			return nil, err
		}

		prevIMEI := doc.IMEI1
		if err := mutate(&doc.Customer); err != nil {
			return nil, err
		}
		doc.ID = id

		imeiChanged := doc.IMEI1 != prevIMEI
		claimed := false
		if imeiChanged && doc.IMEI1 != "" {
			if claimed, err = claimIMEI(ctx, db, doc.IMEI1, id); err != nil {
				return nil, err
			}
		}

		_, err = db.Put(ctx, docID, doc)
		if err == nil {
			if imeiChanged && prevIMEI != "" {
				_ = releaseIMEI(ctx, db, prevIMEI, id)
			}
			return &doc.Customer, nil
		}

		if claimed {
			_ = releaseIMEI(ctx, db, doc.IMEI1, id)
		}
		if !isConflict(err) {
			return nil, fmt.Errorf("failed to update customer: %w", err)
		}
	}

	return nil, ErrConflict
}

func (r *customerRepository) Delete(ctx context.Context, id string) error {
	db := r.client.DB(r.dbName)

	doc, err := r.get(ctx, db, id)
	if err != nil {
		return err
	}

	if _, err := db.Delete(ctx, customerDocID(id), doc.Rev); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete customer: %w", err)
	}

	if doc.IMEI1 != "" {
		_ = releaseIMEI(ctx, db, doc.IMEI1, id)
	}
	return nil
}
