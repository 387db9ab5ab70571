package rbac

import "fee-engine/internal/auth"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleService    = "service"    // payment workers: calculate fees, post ledger entries
	RoleOperator   = "operator"   // authors fee configurations and promotions
	RoleFinance    = "finance"    // approves configurations, corrects fees, reconciles
	RoleAdmin      = "admin"      // bypasses role checks
	RoleReconciler = "reconciler" // hidden role for the batch reconciler
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanAccessClient reports whether id may act on clientID. Identities without a client
// scope are staff and see every client.
func CanAccessClient(id auth.Identity, clientID string) bool {
	if IsAdmin(id.Role) || id.ClientID == "" {
		return true
	}
	return id.ClientID == clientID
}
