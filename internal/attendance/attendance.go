// Package attendance tracks per-member, per-date presence.
package attendance

import (
	"context"
	"errors"

	"gracelog/internal/metrics"
)

var ErrNotFound = errors.New("member not found")

// Status distinguishes a day with no record from one explicitly marked absent.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusAbsent  Status = "absent"
	StatusPresent Status = "present"
)

// Present collapses unknown and absent into "not present".
func (s Status) Present() bool { return s == StatusPresent }

// StatusOf maps a stored record (or its absence) to a Status.
func StatusOf(rec *Record) Status {
	switch {
	case rec == nil:
		return StatusUnknown
	case rec.Present:
		return StatusPresent
	default:
		return StatusAbsent
	}
}

// Record is one member's presence marker for one date.
type Record struct {
	ID       string `json:"id"`
	MemberID string `json:"member_id"`
	Date     Date   `json:"date"`
	Present  bool   `json:"present"`
}

// Store is the persistence the tracker needs. *Repository implements it.
type Store interface {
	MemberOwned(ctx context.Context, userID, memberID string) (bool, error)
	GetRecord(ctx context.Context, userID, memberID string, date Date) (*Record, error)
	ToggleRecord(ctx context.Context, memberID string, date Date) (Record, error)
	RecordsForDate(ctx context.Context, userID string, date Date) ([]Record, error)
}

// Service answers attendance queries scoped to the signed-in user.
type Service struct {
	repo    Store
	metrics *metrics.Metrics
}

// NewService creates a tracker backed by repo. m may be nil.
func NewService(repo Store, m *metrics.Metrics) *Service {
	return &Service{repo: repo, metrics: m}
}

// Get returns the member's status on date. A member with no record reads as unknown.
func (s *Service) Get(ctx context.Context, userID, memberID string, date Date) (Status, error) {
	if date.IsZero() {
		return StatusUnknown, ErrInvalidDate
	}
	if err := s.checkOwner(ctx, userID, memberID); err != nil {
		return StatusUnknown, err
	}
	rec, err := s.repo.GetRecord(ctx, userID, memberID, date)
	if err != nil {
		return StatusUnknown, err
	}
	return StatusOf(rec), nil
}

// Toggle flips the stored presence for (member, date), creating a present
// record when none exists. The flip happens in one statement against the
// unique (member, date) key, so concurrent toggles cannot insert duplicates.
func (s *Service) Toggle(ctx context.Context, userID, memberID string, date Date) (Record, error) {
	if date.IsZero() {
		return Record{}, ErrInvalidDate
	}
	if err := s.checkOwner(ctx, userID, memberID); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.ToggleRecord(ctx, memberID, date)
	if err != nil {
		return Record{}, err
	}
	s.metrics.Toggled(rec.Present)
	return rec, nil
}

// StatusForDate returns every recorded status on date keyed by member id.
// Members without a record are absent from the map and read as unknown.
func (s *Service) StatusForDate(ctx context.Context, userID string, date Date) (map[string]Status, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if date.IsZero() {
		return nil, ErrInvalidDate
	}
	recs, err := s.repo.RecordsForDate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(recs))
	for i := range recs {
		out[recs[i].MemberID] = StatusOf(&recs[i])
	}
	return out, nil
}

func (s *Service) checkOwner(ctx context.Context, userID, memberID string) error {
	if userID == "" || memberID == "" {
		return ErrNotFound
	}
	ok, err := s.repo.MemberOwned(ctx, userID, memberID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
