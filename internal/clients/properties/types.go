// Package properties talks to the property records backend: the remote HTTP
// API, a local SQLite store with the same shape, and a caching wrapper.
package properties

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

// Gateway is the persistence boundary for property records
type Gateway interface {
	ListProperties(ctx context.Context) ([]Property, error)
	SaveProperty(ctx context.Context, payload SavePayload) (*Property, error)
}

// Property is a stored record as returned by the backend
type Property struct {
	ID                 int64        `json:"id"`
	Address            string       `json:"address"`
	OwnerName          string       `json:"owner_name"`
	OwnerPhone         string       `json:"owner_phone"`
	OwnerEmail         string       `json:"owner_email"`
	PolygonCoordinates [][2]float64 `json:"polygon_coordinates"`
	AreaSqFt           *float64     `json:"area_sqft"`
	AssessmentValue    *float64     `json:"assessment_value"`
	Notes              string       `json:"notes"`
	SurveyDate         string       `json:"survey_date,omitempty"`
	CreatedAt          string       `json:"created_at,omitempty"`
	UpdatedAt          string       `json:"updated_at,omitempty"`
}

// ToPolygon converts a record into a persisted polygon. The measurement is
// recomputed from the coordinates rather than trusted from area_sqft.
func (p Property) ToPolygon(geometry geo.Geometry) survey.Polygon {
	vertices := make([]geo.Point, len(p.PolygonCoordinates))
	for i, pair := range p.PolygonCoordinates {
		vertices[i] = geo.PointFromPair(pair)
	}

	polygon := survey.NewPolygon(survey.PersistedID(p.ID), vertices, geometry, survey.StatusPersisted)
	polygon.Metadata = &survey.Metadata{
		RecordID:        p.ID,
		Address:         p.Address,
		OwnerName:       p.OwnerName,
		OwnerPhone:      p.OwnerPhone,
		OwnerEmail:      p.OwnerEmail,
		AssessmentValue: p.AssessmentValue,
		Notes:           p.Notes,
	}
	return polygon
}

// SavePayload is the body of a create-property request. Field limits mirror
// the backend's column sizes.
type SavePayload struct {
	Address            string       `json:"address" validate:"required,max=200"`
	OwnerName          string       `json:"owner_name,omitempty" validate:"max=100"`
	OwnerPhone         string       `json:"owner_phone,omitempty" validate:"max=20"`
	OwnerEmail         string       `json:"owner_email,omitempty" validate:"omitempty,email,max=120"`
	AssessmentValue    *float64     `json:"assessment_value" validate:"omitempty,gte=0"`
	Notes              string       `json:"notes,omitempty"`
	PolygonCoordinates [][2]float64 `json:"polygon_coordinates" validate:"min=3"`
	AreaSqFt           float64      `json:"area_sqft" validate:"gte=0"`
}

var validate = validator.New()

// Validate trims text fields and checks the payload before it is sent
func (p *SavePayload) Validate() error {
	p.Address = strings.TrimSpace(p.Address)
	p.OwnerName = strings.TrimSpace(p.OwnerName)
	p.OwnerPhone = strings.TrimSpace(p.OwnerPhone)
	p.OwnerEmail = strings.TrimSpace(p.OwnerEmail)

	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid property payload: %w", err)
	}
	return nil
}

// PersistenceError reports a failed list or save against the backend
type PersistenceError struct {
	Op         string // "list" or "save"
	StatusCode int
	Message    string
	Err        error
}

func (e *PersistenceError) Error() string {
	msg := e.Message
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case e.Err != nil:
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("property %s failed (%d): %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("property %s failed: %s", e.Op, msg)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const (
	OpList = "list"
	OpSave = "save"
)

type listResponse struct {
	Properties []Property `json:"properties"`
}

type saveResponse struct {
	Property *Property `json:"property"`
}

type errorResponse struct {
	Error string `json:"error"`
}
