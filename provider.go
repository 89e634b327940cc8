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

package quotedesk

import (
	"context"

	"github.com/quotedesk/quotedesk/model"
)

// Provider is an approval backend. Kind and IsAvailable never block.
type Provider interface {
	Kind() model.ProviderKind

	// Submit starts an approval round for the quote.
	Submit(ctx context.Context, quote *model.Quote) (model.InstanceRef, error)

	Approve(ctx context.Context, quote *model.Quote, actor, comment string) (model.ApprovalResult, error)
	Reject(ctx context.Context, quote *model.Quote, actor, reason string) (model.ApprovalResult, error)

	// IsAvailable is a configuration check, not a reachability probe.
	IsAvailable() bool
}
