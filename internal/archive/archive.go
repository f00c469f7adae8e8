// Package archive keeps an audit record of every consultation that reached
// a terminal state.
//
// Records never carry the patient's name or national id in clear; the id
// is stored as a SHA-256 hash so repeat consultations can still be linked.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/consultd/internal/clarify"
	"github.com/fyrsmithlabs/consultd/internal/config"
	"github.com/fyrsmithlabs/consultd/internal/diagnosis"
	"github.com/fyrsmithlabs/consultd/internal/document"
	"github.com/fyrsmithlabs/consultd/internal/knowledge"
	"github.com/fyrsmithlabs/consultd/internal/moderation"
	"github.com/fyrsmithlabs/consultd/internal/session"
)

// ErrUnknownBackend is returned for an unsupported archive.backend.
var ErrUnknownBackend = errors.New("unknown archive backend")

// Record is the archived form of a consultation.
type Record struct {
	ID          string               `json:"id" bson:"_id"`
	State       string               `json:"state" bson:"state"`
	Outcome     string               `json:"outcome,omitempty" bson:"outcome,omitempty"`
	PatientHash string               `json:"patient_hash" bson:"patient_hash"`
	Sex         string               `json:"sex" bson:"sex"`
	Age         int                  `json:"age" bson:"age"`
	Weight      int                  `json:"weight" bson:"weight"`
	Symptoms    []string             `json:"symptoms" bson:"symptoms"`
	QA          []clarify.QA         `json:"qa,omitempty" bson:"qa,omitempty"`
	Moderation  *moderation.Result   `json:"moderation,omitempty" bson:"moderation,omitempty"`
	Snippet     *knowledge.Snippet   `json:"snippet,omitempty" bson:"snippet,omitempty"`
	Draft       *diagnosis.Draft     `json:"draft,omitempty" bson:"draft,omitempty"`
	Verdict     *diagnosis.Verdict   `json:"verdict,omitempty" bson:"verdict,omitempty"`
	Document    *document.Ref        `json:"document,omitempty" bson:"document,omitempty"`
	Degraded    []string             `json:"degraded,omitempty" bson:"degraded,omitempty"`
	History     []session.Transition `json:"history" bson:"history"`
	CreatedAt   time.Time            `json:"created_at" bson:"created_at"`
	ArchivedAt  time.Time            `json:"archived_at" bson:"archived_at"`
}

// HashNationalID returns the hex SHA-256 of the normalized national id.
func HashNationalID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(id))))
	return hex.EncodeToString(sum[:])
}

// RecordFrom builds the archived form of c.
func RecordFrom(c *session.Consultation, now time.Time) Record {
	c = c.Clone()
	return Record{
		ID:          c.ID,
		State:       string(c.State),
		Outcome:     string(c.Outcome),
		PatientHash: HashNationalID(c.Patient.NationalID),
		Sex:         string(c.Patient.Sex),
		Age:         c.Patient.Age,
		Weight:      c.Patient.Weight,
		Symptoms:    c.Symptoms,
		QA:          c.QA,
		Moderation:  c.Moderation,
		Snippet:     c.Snippet,
		Draft:       c.Draft,
		Verdict:     c.Verdict,
		Document:    c.Document,
		Degraded:    c.Degraded,
		History:     c.History,
		CreatedAt:   c.CreatedAt,
		ArchivedAt:  now,
	}
}

// Archiver stores records. Archive is idempotent per record id.
type Archiver interface {
	Archive(ctx context.Context, r Record) error
	Close(ctx context.Context) error
}

// Nop discards records.
type Nop struct{}

// Archive does nothing.
func (Nop) Archive(context.Context, Record) error { return nil }

// Close does nothing.
func (Nop) Close(context.Context) error { return nil }

// New opens the archive selected by the archive section.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN.Value())
	case "mongo":
		return ConnectMongo(ctx, cfg.DSN.Value(), cfg.Database)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
