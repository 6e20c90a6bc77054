// Package mocks provides test doubles for the fetcher client.
package mocks

import (
	"context"
	"net/url"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// GetJSON provides a mock function with given fields: ctx, path, query, out
func (_m *MockClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	ret := _m.Called(ctx, path, query, out)

	if len(ret) == 0 {
		panic("no return value specified for GetJSON")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, url.Values, any) error); ok {
		r0 = rf(ctx, path, query, out)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
