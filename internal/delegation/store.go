package delegation

import "context"

// Store is the persistence collaborator for delegations and their audit
// trails. The registry owns all business rules; implementations only move
// records. Audit history must come back in append order.
type Store interface {
	Save(ctx context.Context, d *Delegation) error
	Get(ctx context.Context, id string) (*Delegation, error)
	Update(ctx context.Context, d *Delegation) error
	ListByWallet(ctx context.Context, wallet string) ([]*Delegation, error)
	ListAll(ctx context.Context) ([]*Delegation, error)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	AuditHistory(ctx context.Context, delegationID string) ([]*AuditEntry, error)
}
