// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"time"

	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/store"
)

// New returns a fully wired in-memory store. now may be nil.
func New(now func() time.Time) store.Store {
	if now == nil {
		now = time.Now
	}
	workflows := NewCollection[domain.Workflow]("workflow", now)
	return store.Store{
		Prospects:     NewCollection[domain.Prospect]("prospect", now),
		Tasks:         NewCollection[domain.Task]("task", now),
		Interactions:  NewCollection[domain.Interaction]("interaction", now),
		Outreach:      NewCollection[domain.Outreach]("outreach", now),
		Workflows:     workflows,
		Runs:          NewRunStore(workflows, now),
		Notifications: NewNotificationStore(now),
	}
}
