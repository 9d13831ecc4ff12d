package survey

import (
	"fmt"
	"strings"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
)

// Store holds completed and persisted polygons in insertion order. Like
// Machine it is not safe for concurrent use.
type Store struct {
	completed []Polygon
	persisted []Polygon
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// AddCompleted appends a finished polygon. IDs must be unique across both sets.
func (s *Store) AddCompleted(p Polygon) error {
	if p.Status != StatusCompleted {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidStatus, StatusCompleted, p.Status)
	}
	if s.indexOf(s.completed, p.ID) >= 0 || s.indexOf(s.persisted, p.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}

	s.completed = append(s.completed, p.Clone())
	return nil
}

// RemoveCompleted drops a completed polygon, reporting whether it was present
func (s *Store) RemoveCompleted(id string) bool {
	i := s.indexOf(s.completed, id)
	if i < 0 {
		return false
	}
	s.completed = append(s.completed[:i], s.completed[i+1:]...)
	return true
}

// ReplacePersisted swaps the persisted set wholesale. Entries with fewer than
// three vertices are dropped and every kept entry is marked Persisted. It
// returns the number of polygons kept.
func (s *Store) ReplacePersisted(polygons []Polygon) int {
	kept := make([]Polygon, 0, len(polygons))
	for _, p := range polygons {
		if len(p.Vertices) < geo.MinRingVertices {
			continue
		}
		p = p.Clone()
		p.Status = StatusPersisted
		kept = append(kept, p)
	}
	s.persisted = kept
	return len(kept)
}

// MarkSaving returns the completed polygon about to be saved
func (s *Store) MarkSaving(id string) (Polygon, error) {
	i := s.indexOf(s.completed, id)
	if i < 0 {
		return Polygon{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.completed[i].Clone(), nil
}

// ClearCompleted removes every completed polygon
func (s *Store) ClearCompleted() {
	s.completed = nil
}

// Completed returns a copy of the completed polygons
func (s *Store) Completed() []Polygon {
	return cloneAll(s.completed)
}

// Persisted returns a copy of the persisted polygons
func (s *Store) Persisted() []Polygon {
	return cloneAll(s.persisted)
}

// Counts returns the sizes of the completed and persisted sets
func (s *Store) Counts() (completed, persisted int) {
	return len(s.completed), len(s.persisted)
}

// Get looks up a polygon by ID in either set
func (s *Store) Get(id string) (Polygon, bool) {
	if i := s.indexOf(s.completed, id); i >= 0 {
		return s.completed[i].Clone(), true
	}
	if i := s.indexOf(s.persisted, id); i >= 0 {
		return s.persisted[i].Clone(), true
	}
	return Polygon{}, false
}

// SearchPersisted returns persisted polygons whose address or owner name
// contains term, ignoring case. An empty term matches everything.
func (s *Store) SearchPersisted(term string) []Polygon {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return s.Persisted()
	}

	var matches []Polygon
	for _, p := range s.persisted {
		if p.Metadata == nil {
			continue
		}
		if strings.Contains(strings.ToLower(p.Metadata.Address), term) ||
			strings.Contains(strings.ToLower(p.Metadata.OwnerName), term) {
			matches = append(matches, p.Clone())
		}
	}
	return matches
}

func (s *Store) indexOf(polygons []Polygon, id string) int {
	for i := range polygons {
		if polygons[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(polygons []Polygon) []Polygon {
	out := make([]Polygon, len(polygons))
	for i, p := range polygons {
		out[i] = p.Clone()
	}
	return out
}
