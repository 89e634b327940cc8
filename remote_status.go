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

import "github.com/quotedesk/quotedesk/model"

// Remote approval instance state codes.
const (
	RemoteStatusPending   = 1
	RemoteStatusApproved  = 2
	RemoteStatusRejected  = 3
	RemoteStatusCancelled = 4
	RemoteStatusRevoked   = 6 // approved, then withdrawn
	RemoteStatusDeleted   = 7
	RemoteStatusPaid      = 10
)

var remoteStatusTable = map[int]model.CanonicalStatus{
	RemoteStatusPending:   model.StatusPending,
	RemoteStatusApproved:  model.StatusApproved,
	RemoteStatusRejected:  model.StatusRejected,
	RemoteStatusCancelled: model.StatusCancelled,
	RemoteStatusRevoked:   model.StatusCancelled,
	RemoteStatusDeleted:   model.StatusCancelled,
	RemoteStatusPaid:      model.StatusApproved,
}

// TranslateRemoteStatus maps a remote state code onto the canonical vocabulary.
func TranslateRemoteStatus(code int) (model.CanonicalStatus, bool) {
	status, ok := remoteStatusTable[code]
	return status, ok
}
