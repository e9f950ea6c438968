package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeCustomer  = "customer"
	docTypeDevice    = "device"
	docTypeAdmin     = "admin"
	docTypeAudit     = "audit"
	docTypeIMEIClaim = "imei_claim"
)

// OpenCouch connects to CouchDB, creates the database when missing and
// installs the Mango indexes the repositories query by.
func OpenCouch(ctx context.Context, url, dbName string) (*kivik.Client, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	db := client.DB(dbName)
	indexes := map[string][]string{
		"by-type-dealer":   {"doc_type", "dealerId"},
		"by-type-customer": {"doc_type", "assignedCustomerId"},
		"by-type-imei":     {"doc_type", "imei1"},
		"by-type-expected": {"doc_type", "expectedImei"},
		"by-type-email":    {"doc_type", "email"},
		"by-type-username": {"doc_type", "username"},
	}
	for name, fields := range indexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, "emilock-"+name, name, index); err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return client, nil
}

func isNotFound(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusConflict
}

// claimGrace is how long a claim without a customer document is presumed to
// belong to a create still in flight. Only older orphans may be taken over.
const claimGrace = time.Minute

type imeiClaim struct {
	Rev        string    `json:"_rev,omitempty"`
	DocType    string    `json:"doc_type"`
	CustomerID string    `json:"customerId"`
	ClaimedAt  time.Time `json:"claimedAt"`
}

func imeiClaimID(imei string) string {
	return fmt.Sprintf("imei:%s", imei)
}

// claimIMEI creates the claim document for imei. CouchDB rejects a second
// revisionless write to the same _id, which makes the claim the uniqueness
// constraint rather than a pre-check. created reports whether this call
// wrote the claim; only such a claim may be released on rollback.
func claimIMEI(ctx context.Context, db *kivik.DB, imei, customerID string) (created bool, err error) {
	docID := imeiClaimID(imei)
	now := time.Now().UTC()
	_, err = db.Put(ctx, docID, imeiClaim{DocType: docTypeIMEIClaim, CustomerID: customerID, ClaimedAt: now})
	if err == nil {
		return true, nil
	}
	if !isConflict(err) {
		return false, fmt.Errorf("failed to claim imei: %w", err)
	}

	var existing imeiClaim
	if err := db.Get(ctx, docID).ScanDoc(&existing); err != nil {
		return false, fmt.Errorf("failed to read imei claim: %w", err)
	}
	if existing.CustomerID == customerID {
		return false, nil
	}
	if now.Sub(existing.ClaimedAt) < claimGrace {
		return false, ErrDuplicateIMEI
	}

	// An old claim whose customer no longer exists is left over from an
	// interrupted create or delete and may be taken over.
	if _, err := db.GetRev(ctx, customerDocID(existing.CustomerID)); err == nil {
		return false, ErrDuplicateIMEI
	} else if !isNotFound(err) {
		return false, fmt.Errorf("failed to check imei owner: %w", err)
	}
	existing.CustomerID = customerID
	existing.ClaimedAt = now
	if _, err := db.Put(ctx, docID, existing); err != nil {
		if isConflict(err) {
			return false, ErrDuplicateIMEI
		}
		return false, fmt.Errorf("failed to take over imei claim: %w", err)
	}
	return true, nil
}

func releaseIMEI(ctx context.Context, db *kivik.DB, imei, customerID string) error {
	docID := imeiClaimID(imei)
	var claim imeiClaim
	if err := db.Get(ctx, docID).ScanDoc(&claim); err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if claim.CustomerID != customerID {
		return nil
	}
	if _, err := db.Delete(ctx, docID, claim.Rev); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to release imei claim: %w", err)
	}
	return nil
}

func lookupIMEIClaim(ctx context.Context, db *kivik.DB, imei string) (string, error) {
	var claim imeiClaim
	if err := db.Get(ctx, imeiClaimID(imei)).ScanDoc(&claim); err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return claim.CustomerID, nil
}

func scanAll[T any](rows *kivik.ResultSet) ([]*T, error) {
	if err := rows.Err(); err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var v T
		if err := rows.ScanDoc(&v); err != nil {
			continue // Skip malformed docs
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
