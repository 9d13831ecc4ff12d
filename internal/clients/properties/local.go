package properties

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

// LocalStore implements Gateway on a SQLite file, for surveying without the
// remote backend. The table mirrors the backend's property schema with an
// extra EWKT boundary column for GIS tooling.
type LocalStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenLocalStore opens (and if needed creates) the database at path.
// An empty path uses an in-memory database.
func OpenLocalStore(ctx context.Context, path string) (*LocalStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writes
	db.SetMaxOpenConns(1)

	s := &LocalStore{db: db, now: time.Now}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS property (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL,
			owner_name TEXT,
			owner_phone TEXT,
			owner_email TEXT,
			polygon_coordinates TEXT,
			boundary_ewkt TEXT,
			area_sqft REAL,
			assessment_value REAL,
			survey_date TEXT,
			notes TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create property table: %w", err)
	}
	return nil
}

// Close releases the database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) ListProperties(ctx context.Context) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, owner_name, owner_phone, owner_email, polygon_coordinates,
		       area_sqft, assessment_value, survey_date, notes, created_at, updated_at
		FROM property ORDER BY id
	`)
	if err != nil {
		return nil, &PersistenceError{Op: OpList, Message: "failed to query properties", Err: err}
	}
	defer rows.Close()

	properties := []Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, &PersistenceError{Op: OpList, Message: "failed to read property", Err: err}
		}
		properties = append(properties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: OpList, Message: "failed to read properties", Err: err}
	}

	return properties, nil
}

func (s *LocalStore) SaveProperty(ctx context.Context, payload SavePayload) (*Property, error) {
	if err := payload.Validate(); err != nil {
		return nil, &PersistenceError{Op: OpSave, StatusCode: 400, Message: "Address is required and polygon must have at least 3 points", Err: err}
	}

	coords, err := json.Marshal(payload.PolygonCoordinates)
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to encode coordinates", Err: err}
	}

	vertices := make([]geo.Point, len(payload.PolygonCoordinates))
	for i, pair := range payload.PolygonCoordinates {
		vertices[i] = geo.PointFromPair(pair)
	}
	boundary, err := geo.RingWKT(vertices)
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to encode boundary", Err: err}
	}

	now := s.now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO property (address, owner_name, owner_phone, owner_email, polygon_coordinates,
		                      boundary_ewkt, area_sqft, assessment_value, survey_date, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		payload.Address,
		nullString(payload.OwnerName),
		nullString(payload.OwnerPhone),
		nullString(payload.OwnerEmail),
		string(coords),
		fmt.Sprintf("SRID=4326;%s", boundary),
		payload.AreaSqFt,
		nullFloat(payload.AssessmentValue),
		now,
		nullString(payload.Notes),
		now,
		now,
	)
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to insert property", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to read property id", Err: err}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, owner_name, owner_phone, owner_email, polygon_coordinates,
		       area_sqft, assessment_value, survey_date, notes, created_at, updated_at
		FROM property WHERE id = ?
	`, id)
	property, err := scanProperty(row)
	if err != nil {
		return nil, &PersistenceError{Op: OpSave, Message: "failed to read saved property", Err: err}
	}
	return property, nil
}

// Boundary returns the stored EWKT boundary for a record
func (s *LocalStore) Boundary(ctx context.Context, id int64) (string, error) {
	var boundary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT boundary_ewkt FROM property WHERE id = ?`, id).Scan(&boundary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: property %d", survey.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read boundary for property %d: %w", id, err)
	}
	return boundary.String, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProperty(row scanner) (*Property, error) {
	var (
		p                                 Property
		ownerName, ownerPhone, ownerEmail sql.NullString
		coords, surveyDate, notes         sql.NullString
		areaSqFt, assessmentValue         sql.NullFloat64
	)

	err := row.Scan(&p.ID, &p.Address, &ownerName, &ownerPhone, &ownerEmail, &coords,
		&areaSqFt, &assessmentValue, &surveyDate, &notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.OwnerName = ownerName.String
	p.OwnerPhone = ownerPhone.String
	p.OwnerEmail = ownerEmail.String
	p.SurveyDate = surveyDate.String
	p.Notes = notes.String
	if areaSqFt.Valid {
		p.AreaSqFt = &areaSqFt.Float64
	}
	if assessmentValue.Valid {
		p.AssessmentValue = &assessmentValue.Float64
	}
	if coords.Valid && coords.String != "" {
		if err := json.Unmarshal([]byte(coords.String), &p.PolygonCoordinates); err != nil {
			return nil, fmt.Errorf("failed to decode polygon_coordinates: %w", err)
		}
	}

	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
