// Package evidence provides the HMAC-signed audit trail for guardrail
// decisions.
//
// Every pipeline run — allowed, blocked, or refused — produces exactly one
// AuditRecord that is signed (HMAC-SHA256) and persisted in SQLite. Records
// are de-identified: only hashed references to the input text and owner
// identity are stored, never wallet addresses, balances, or free text.
package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	txotel "github.com/txsentry/txsentry/internal/otel"
	"github.com/txsentry/txsentry/internal/policy"
)

var tracer = txotel.Tracer("github.com/txsentry/txsentry/internal/evidence")

// Store persists HMAC-signed audit records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// AuditRecord is the full audit record for a single pipeline run.
// Append-only; the verdict inside it is final.
type AuditRecord struct {
	ID                 string         `json:"id"`
	InputID            string         `json:"input_id"`  // content-hash reference to the raw text
	OwnerRef           string         `json:"owner_ref"` // hashed owner identity
	CreatedAt          time.Time      `json:"created_at"`
	ClassificationTags []string       `json:"classification_tags"`
	SchemaValid        bool           `json:"schema_valid"`
	Verdict            policy.Verdict `json:"verdict"`
	LatencyMS          int64          `json:"latency_ms"`
	Signature          string         `json:"signature"`
}

// NewRecordID returns a fresh audit record identifier.
func NewRecordID() string {
	return "aud_" + uuid.New().String()[:8]
}

// OwnerRef hashes an owner identity into the de-identified reference stored
// in audit records.
func OwnerRef(ownerID string) string {
	if ownerID == "" {
		return ""
	}
	h := sha256.Sum256([]byte("owner:" + ownerID))
	return "own_" + hex.EncodeToString(h[:])[:12]
}

// NewStore creates an audit store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		input_id TEXT NOT NULL,
		owner_ref TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		result TEXT NOT NULL,
		first_rule TEXT NOT NULL,
		record_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_input ON audit_records(input_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_result ON audit_records(result);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append signs and persists one audit record. Violation details are redacted
// before anything touches disk, as defense-in-depth against addresses or
// hashes leaking through rule messages.
func (s *Store) Append(ctx context.Context, rec *AuditRecord) error {
	ctx, span := tracer.Start(ctx, "evidence.append",
		trace.WithAttributes(
			attribute.String("audit.id", rec.ID),
			attribute.String("audit.result", string(rec.Verdict.Result)),
		))
	defer span.End()

	for i, v := range rec.Verdict.RuleViolations {
		rec.Verdict.RuleViolations[i].Detail = Redact(v.Detail)
	}

	rec.Signature = ""
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	signature, err := s.signer.Sign(recordJSON)
	if err != nil {
		return fmt.Errorf("signing audit record: %w", err)
	}
	rec.Signature = signature

	signedJSON, _ := json.Marshal(rec)

	query := `INSERT INTO audit_records (id, input_id, owner_ref, created_at, result, first_rule, record_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.InputID, rec.OwnerRef, rec.CreatedAt,
		string(rec.Verdict.Result), rec.Verdict.FirstRule(),
		string(signedJSON), signature,
	)
	if err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}

	return nil
}

// Get retrieves an audit record by ID.
func (s *Store) Get(ctx context.Context, id string) (*AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "evidence.get",
		trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM audit_records WHERE id = ?`, id).Scan(&recordJSON)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit record: %w", err)
	}

	var rec AuditRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling audit record: %w", err)
	}

	return &rec, nil
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Result   policy.Result
	InputID  string
	OwnerRef string
	From     time.Time
	To       time.Time
	Limit    int
}

// List returns audit records matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "evidence.list")
	defer span.End()

	query := `SELECT record_json FROM audit_records WHERE 1=1`
	args := []interface{}{}

	if f.Result != "" {
		query += ` AND result = ?`
		args = append(args, string(f.Result))
	}
	if f.InputID != "" {
		query += ` AND input_id = ?`
		args = append(args, f.InputID)
	}
	if f.OwnerRef != "" {
		query += ` AND owner_ref = ?`
		args = append(args, f.OwnerRef)
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.To)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var results []AuditRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			continue
		}
		var rec AuditRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			continue
		}
		results = append(results, rec)
	}

	span.SetAttributes(attribute.Int("audit.count", len(results)))
	return results, nil
}

// Verify checks the HMAC signature integrity of an audit record.
func (s *Store) Verify(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "evidence.verify",
		trace.WithAttributes(attribute.String("audit.id", id)))
	defer span.End()

	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := rec.Signature
	rec.Signature = ""

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}

	return s.signer.Verify(recordJSON, signature), nil
}

// CountForOwnerSince returns how many decisions the owner has accumulated
// since the given time. Used for per-owner daily decision budgets.
func (s *Store) CountForOwnerSince(ctx context.Context, ownerRef string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE owner_ref = ? AND created_at >= ?`,
		ownerRef, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting owner decisions: %w", err)
	}
	return n, nil
}

// CountByResult returns how many records exist per verdict result in the
// half-open time range [from, to).
func (s *Store) CountByResult(ctx context.Context, from, to time.Time) (map[policy.Result]int, error) {
	ctx, span := tracer.Start(ctx, "evidence.count_by_result")
	defer span.End()

	query := `SELECT result, COUNT(*) FROM audit_records WHERE 1=1`
	args := []interface{}{}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, to)
	}
	query += ` GROUP BY result`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}
	defer rows.Close()

	counts := make(map[policy.Result]int)
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			continue
		}
		counts[policy.Result(result)] = n
	}
	return counts, nil
}
