package repository

import (
	"context"
	"fmt"

	"emilock-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
	// List returns matching entries newest first.
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

type auditDoc struct {
	DocType string `json:"doc_type"`
	domain.AuditLog
}

type auditRepository struct {
	client *kivik.Client
	dbName string
}

func NewAuditRepository(client *kivik.Client, dbName string) AuditRepository {
	return &auditRepository{
		client: client,
		dbName: dbName,
	}
}

// Entry ids are ULIDs, so _id order is creation order.
func auditDocID(id string) string {
	return fmt.Sprintf("audit:%s", id)
}

func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditLog) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Put(ctx, auditDocID(entry.ID), auditDoc{DocType: docTypeAudit, AuditLog: *entry}); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	db := r.client.DB(r.dbName)

	selector := map[string]interface{}{
		"_id":      map[string]interface{}{"$gt": "audit:", "$lt": "audit;"},
		"doc_type": docTypeAudit,
	}
	if filter.DealerID != "" {
		selector["dealerId"] = filter.DealerID
	}
	if filter.TargetID != "" {
		selector["targetId"] = filter.TargetID
	}
	if filter.ActorID != "" {
		selector["actorId"] = filter.ActorID
	}

	query := map[string]interface{}{
		"selector": selector,
		"sort":     []map[string]string{{"_id": "desc"}},
	}
	if filter.Limit > 0 {
		query["limit"] = filter.Limit
	}

	docs, err := scanAll[auditDoc](db.Find(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	entries := make([]*domain.AuditLog, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, &d.AuditLog)
	}
	return entries, nil
}
