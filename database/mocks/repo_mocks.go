/*
Copyright 2024 Quotedesk Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/quotedesk/quotedesk/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Quote methods

func (m *MockDataSource) CreateQuote(ctx context.Context, quote model.Quote) (model.Quote, error) {
	args := m.Called(ctx, quote)
	return args.Get(0).(model.Quote), args.Error(1)
}

func (m *MockDataSource) GetQuoteByID(ctx context.Context, id string) (*model.Quote, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Quote), args.Error(1)
}

func (m *MockDataSource) GetAllQuotes(ctx context.Context, limit, offset int) ([]model.Quote, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Quote), args.Error(1)
}

func (m *MockDataSource) ApplyStatusTransition(ctx context.Context, transition model.StatusTransition) (*model.TransitionResult, error) {
	args := m.Called(ctx, transition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TransitionResult), args.Error(1)
}

// Instance mapping methods

func (m *MockDataSource) GetMappingByInstanceID(ctx context.Context, instanceID string) (*model.InstanceMapping, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InstanceMapping), args.Error(1)
}

func (m *MockDataSource) GetLatestMappingByQuoteID(ctx context.Context, quoteID string) (*model.InstanceMapping, error) {
	args := m.Called(ctx, quoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InstanceMapping), args.Error(1)
}

func (m *MockDataSource) ListMappingsByQuoteID(ctx context.Context, quoteID string) ([]model.InstanceMapping, error) {
	args := m.Called(ctx, quoteID)
	return args.Get(0).([]model.InstanceMapping), args.Error(1)
}

// Journal methods

func (m *MockDataSource) EventExists(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RecordEvent(ctx context.Context, event model.ApprovalEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ListOrphanEvents(ctx context.Context, instanceID string) ([]model.ApprovalEvent, error) {
	args := m.Called(ctx, instanceID)
	return args.Get(0).([]model.ApprovalEvent), args.Error(1)
}

func (m *MockDataSource) ListEventsByQuoteID(ctx context.Context, quoteID string) ([]model.ApprovalEvent, error) {
	args := m.Called(ctx, quoteID)
	return args.Get(0).([]model.ApprovalEvent), args.Error(1)
}
