package properties

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("testdata/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func validPayload() SavePayload {
	value := 300000.0
	return SavePayload{
		Address:            "12 Oak Street",
		OwnerName:          "Grace Hopper",
		OwnerEmail:         "grace@example.com",
		AssessmentValue:    &value,
		PolygonCoordinates: [][2]float64{{40, -74}, {40, -73.999}, {40.001, -73.999}},
		AreaSqFt:           49000,
	}
}

func TestListProperties_Success(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodGet &&
			req.URL.String() == "https://survey.example.com/api/properties" &&
			req.Header.Get("Cookie") == "session=abc"
	})).Return(createMockResponse(200, loadTestFixture(t, "list.json")), nil)

	client := NewClientWithHTTPDoer(ClientOptions{
		BaseURL:       "https://survey.example.com/api/",
		SessionCookie: "session=abc",
	}, mockHTTP)

	properties, err := client.ListProperties(context.Background())
	require.NoError(t, err)
	require.Len(t, properties, 2)

	first := properties[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "12 Oak Street", first.Address)
	assert.Equal(t, "Grace Hopper", first.OwnerName)
	assert.Len(t, first.PolygonCoordinates, 4)
	require.NotNil(t, first.AssessmentValue)
	assert.Equal(t, 450000.0, *first.AssessmentValue)

	second := properties[1]
	assert.Empty(t, second.OwnerName)
	assert.Nil(t, second.PolygonCoordinates)
	assert.Nil(t, second.AreaSqFt)

	mockHTTP.AssertExpectations(t)
}

func TestListProperties_ErrorBody(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.Anything).Return(createMockResponse(401, `{"error": "Authentication required"}`), nil)

	client := NewClientWithHTTPDoer(ClientOptions{BaseURL: "https://survey.example.com/api"}, mockHTTP)

	_, err := client.ListProperties(context.Background())
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, OpList, perr.Op)
	assert.Equal(t, 401, perr.StatusCode)
	assert.Equal(t, "Authentication required", perr.Message)
}

func TestListProperties_NetworkError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))

	client := NewClientWithHTTPDoer(ClientOptions{BaseURL: "https://survey.example.com/api"}, mockHTTP)

	_, err := client.ListProperties(context.Background())

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPersistenceError_Error(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	tests := []struct {
		name string
		err  *PersistenceError
		want string
	}{
		{"message and cause", &PersistenceError{Op: OpSave, Message: "failed to execute request", Err: cause}, "property save failed: failed to execute request: dial tcp: connection refused"},
		{"cause only", &PersistenceError{Op: OpList, Err: cause}, "property list failed: dial tcp: connection refused"},
		{"status and message", &PersistenceError{Op: OpSave, StatusCode: 400, Message: "Address is required"}, "property save failed (400): Address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
	assert.ErrorIs(t, tests[0].err, cause)
}

func TestSaveProperty_RoundTripsPayload(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/properties", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"property": {"id": 42, "address": "12 Oak Street",
			"polygon_coordinates": [[40, -74], [40, -73.999], [40.001, -73.999]], "area_sqft": 49000}}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL + "/api"})

	property, err := client.SaveProperty(context.Background(), validPayload())
	require.NoError(t, err)
	assert.Equal(t, int64(42), property.ID)

	assert.Equal(t, "12 Oak Street", received["address"])
	assert.Equal(t, 49000.0, received["area_sqft"])
	coords, ok := received["polygon_coordinates"].([]interface{})
	require.True(t, ok)
	assert.Len(t, coords, 3, "ring is sent unclosed")
	assert.Equal(t, []interface{}{40.0, -74.0}, coords[0], "pairs are [lat, lng]")
}

func TestSaveProperty_ServerErrorTripsBreaker(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "database locked"}`))
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL, MaxConsecutiveFailures: 2})

	for i := 0; i < 2; i++ {
		_, err := client.SaveProperty(context.Background(), validPayload())
		var perr *PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, 500, perr.StatusCode)
		assert.Equal(t, "database locked", perr.Message)
	}

	_, err := client.SaveProperty(context.Background(), validPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, 2, calls, "open breaker short-circuits the request")
}

func TestSavePayload_Validate(t *testing.T) {
	p := validPayload()
	p.Address = "  12 Oak Street  "
	require.NoError(t, p.Validate())
	assert.Equal(t, "12 Oak Street", p.Address)

	blank := validPayload()
	blank.Address = "   "
	assert.Error(t, blank.Validate())

	short := validPayload()
	short.PolygonCoordinates = short.PolygonCoordinates[:2]
	assert.Error(t, short.Validate())

	email := validPayload()
	email.OwnerEmail = "not-an-email"
	assert.Error(t, email.Validate())

	negative := validPayload()
	value := -1.0
	negative.AssessmentValue = &value
	assert.Error(t, negative.Validate())

	noValue := validPayload()
	noValue.AssessmentValue = nil
	noValue.OwnerEmail = ""
	assert.NoError(t, noValue.Validate())
}

func TestProperty_ToPolygon(t *testing.T) {
	area := 1.0
	p := Property{
		ID:                 7,
		Address:            "12 Oak Street",
		OwnerName:          "Grace Hopper",
		PolygonCoordinates: [][2]float64{{40, -74}, {40, -73.999}, {40.001, -73.999}},
		AreaSqFt:           &area,
	}

	g := geo.NewGeometry()
	polygon := p.ToPolygon(g)

	assert.Equal(t, "property-7", polygon.ID)
	assert.Equal(t, survey.StatusPersisted, polygon.Status)
	assert.Equal(t, geo.Point{Latitude: 40, Longitude: -74}, polygon.Vertices[0])
	assert.InDelta(t, g.Area(polygon.Vertices), polygon.Measurement.AreaSqFt, 1e-9, "area is recomputed, not trusted")
	require.NotNil(t, polygon.Metadata)
	assert.Equal(t, int64(7), polygon.Metadata.RecordID)
	assert.Equal(t, "Grace Hopper", polygon.Metadata.OwnerName)
}
