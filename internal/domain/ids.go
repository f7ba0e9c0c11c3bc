// Package domain holds the persistent entities of the sales command center:
// signals, workflows, contacts, drafts, the command queue, auto-approval
// rules, send records, outcomes, and notifications. Types here carry no
// behavior beyond small invariant helpers — business logic lives in the
// packages that own each entity (signalingest, workflow, aps, autoapproval,
// executor, outcome).
package domain

import "github.com/google/uuid"

// NewID returns a random 128-bit identifier, rendered as a UUID string.
// Every entity in this package is identified this way.
func NewID() string {
	return uuid.New().String()
}
