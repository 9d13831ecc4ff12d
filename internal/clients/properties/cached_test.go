package properties

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/survey.ersn.net/server/internal/cache"
)

// MockGateway is a mock implementation of Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ListProperties(ctx context.Context) ([]Property, error) {
	args := m.Called(ctx)
	properties, _ := args.Get(0).([]Property)
	return properties, args.Error(1)
}

func (m *MockGateway) SaveProperty(ctx context.Context, payload SavePayload) (*Property, error) {
	args := m.Called(ctx, payload)
	property, _ := args.Get(0).(*Property)
	return property, args.Error(1)
}

func TestCachedGateway_ServesListFromCache(t *testing.T) {
	next := &MockGateway{}
	next.On("ListProperties", mock.Anything).Return([]Property{{ID: 1, Address: "12 Oak Street"}}, nil).Once()

	gateway := NewCachedGateway(next, cache.NewCache(), time.Minute)

	for i := 0; i < 3; i++ {
		properties, err := gateway.ListProperties(context.Background())
		require.NoError(t, err)
		require.Len(t, properties, 1)
		assert.Equal(t, "12 Oak Street", properties[0].Address)
	}

	next.AssertNumberOfCalls(t, "ListProperties", 1)
}

func TestCachedGateway_SaveInvalidatesList(t *testing.T) {
	next := &MockGateway{}
	next.On("ListProperties", mock.Anything).Return([]Property{{ID: 1}}, nil).Once()
	next.On("ListProperties", mock.Anything).Return([]Property{{ID: 1}, {ID: 2}}, nil).Once()
	next.On("SaveProperty", mock.Anything, mock.Anything).Return(&Property{ID: 2}, nil)

	gateway := NewCachedGateway(next, cache.NewCache(), time.Minute)

	before, err := gateway.ListProperties(context.Background())
	require.NoError(t, err)
	assert.Len(t, before, 1)

	_, err = gateway.SaveProperty(context.Background(), validPayload())
	require.NoError(t, err)

	after, err := gateway.ListProperties(context.Background())
	require.NoError(t, err)
	assert.Len(t, after, 2)

	next.AssertExpectations(t)
}

func TestCachedGateway_DoesNotCacheErrors(t *testing.T) {
	next := &MockGateway{}
	next.On("ListProperties", mock.Anything).Return(nil, &PersistenceError{Op: OpList, Message: "down"}).Once()
	next.On("ListProperties", mock.Anything).Return([]Property{{ID: 1}}, nil).Once()

	gateway := NewCachedGateway(next, cache.NewCache(), time.Minute)

	_, err := gateway.ListProperties(context.Background())
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))

	properties, err := gateway.ListProperties(context.Background())
	require.NoError(t, err)
	assert.Len(t, properties, 1)
}
