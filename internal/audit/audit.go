// Package audit implements the append-only security event trail backed by
// the document store, grounded on the teacher's internal/audit package:
// the same EventType-keyed, structured-logging shape, re-pointed from a
// Postgres DBLogger to a Mongo-backed one.
package audit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/homestead-systems/assistant-core/internal/document"
	"github.com/homestead-systems/assistant-core/internal/txn"
)

// LogParams carries the optional fields an audit entry may record.
type LogParams struct {
	UserID        *primitive.ObjectID
	Email         string
	Provider      string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]interface{}
}

// Service defines the contract for recording security events. Callers pass
// an already-open Transaction so registration/login audit writes share the
// caller's atomic unit of work (spec.md §4.6: "inserts the user row and an
// user_registered audit event in a single transaction").
type Service interface {
	Log(ctx context.Context, tx *txn.Transaction, eventType document.AuditEventType, params LogParams)
}

// MongoLogger implements Service by inserting into the audit_records
// collection through the transaction runtime. Insert failures never block
// the caller's primary operation — they fall back to a structured stdout
// log so the event is never silently lost, mirroring the teacher's
// DBLogger fallback-to-stdout behavior.
type MongoLogger struct {
	logger *slog.Logger
}

// NewMongoLogger builds a MongoLogger. A nil logger uses a dedicated JSON
// handler over stdout, the same isolation the teacher's JSONAuditLogger
// keeps from the app's main logger.
func NewMongoLogger(logger *slog.Logger) *MongoLogger {
	if logger == nil {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		logger = slog.New(handler)
	}
	return &MongoLogger{logger: logger}
}

func (m *MongoLogger) Log(ctx context.Context, tx *txn.Transaction, eventType document.AuditEventType, params LogParams) {
	record := document.AuditRecord{
		EventType:     eventType,
		UserID:        params.UserID,
		Email:         params.Email,
		Provider:      params.Provider,
		IPAddress:     params.IPAddress,
		Success:       params.Success,
		FailureReason: params.FailureReason,
		Metadata:      params.Metadata,
		Timestamp:     time.Now().UTC(),
	}

	if _, err := tx.InsertOne(document.CollectionAuditRecords, bsonFromRecord(record)); err != nil {
		m.logger.Error("audit_insert_failed",
			"event_type", eventType,
			"error", err,
		)
		return
	}

	m.logger.Info("audit_event",
		"log_type", "AUDIT_TRAIL",
		"event_type", eventType,
		"success", params.Success,
		"email", params.Email,
	)
}

func bsonFromRecord(r document.AuditRecord) bson.M {
	m := bson.M{
		"event_type": r.EventType,
		"success":    r.Success,
		"timestamp":  r.Timestamp,
	}
	if r.UserID != nil {
		m["user_id"] = *r.UserID
	}
	if r.Email != "" {
		m["email"] = r.Email
	}
	if r.Provider != "" {
		m["provider"] = r.Provider
	}
	if r.IPAddress != "" {
		m["ip_address"] = r.IPAddress
	}
	if r.FailureReason != "" {
		m["failure_reason"] = r.FailureReason
	}
	if r.Metadata != nil {
		m["metadata"] = r.Metadata
	}
	return m
}

// NoopLogger discards every event. Used in tests that don't exercise the
// audit trail.
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, *txn.Transaction, document.AuditEventType, LogParams) {}
