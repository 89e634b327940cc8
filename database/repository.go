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

package database

import (
	"context"

	"github.com/quotedesk/quotedesk/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	quote            // Interface for quote documents
	approvalInstance // Interface for external instance mappings
	approvalJournal  // Interface for the callback event journal
}

// quote defines methods for handling quotes.
type quote interface {
	CreateQuote(ctx context.Context, quote model.Quote) (model.Quote, error)
	GetQuoteByID(ctx context.Context, id string) (*model.Quote, error)
	GetAllQuotes(ctx context.Context, limit, offset int) ([]model.Quote, error)

	// ApplyStatusTransition is the only write path for quote status fields.
	ApplyStatusTransition(ctx context.Context, transition model.StatusTransition) (*model.TransitionResult, error)
}

// approvalInstance defines methods for the quote to remote instance mapping.
type approvalInstance interface {
	GetMappingByInstanceID(ctx context.Context, instanceID string) (*model.InstanceMapping, error)
	GetLatestMappingByQuoteID(ctx context.Context, quoteID string) (*model.InstanceMapping, error)
	ListMappingsByQuoteID(ctx context.Context, quoteID string) ([]model.InstanceMapping, error)
}

// approvalJournal defines methods for the append-only event journal.
type approvalJournal interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, event model.ApprovalEvent) (bool, error) // false when the event id is already journaled
	ListOrphanEvents(ctx context.Context, instanceID string) ([]model.ApprovalEvent, error)
	ListEventsByQuoteID(ctx context.Context, quoteID string) ([]model.ApprovalEvent, error)
}
