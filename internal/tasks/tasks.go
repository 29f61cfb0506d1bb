// Package tasks defines the deferred-task vocabulary: the payloads published
// to the task broker and the queue topology they travel through. Every
// asynchronous mutation in the system (counter accounting, sweeps, period
// resets, account deletion) is one of these messages.
package tasks

// Routing keys on the "tasks" exchange.
const (
	KeyAccounting = "accounting"
	KeyReaper     = "reaper"
	KeyAccount    = "account"
	KeyPeriod     = "period"
	KeyBilling    = "billing"
)

// TasksExchange is the durable direct exchange all task messages go through.
const TasksExchange = "tasks"

// Accounting operations.
const (
	OpIncrementUsage        = "increment_usage"
	OpIncrementRequestCount = "increment_request_count"
	OpDecrementRequestCount = "decrement_request_count"
)

// AccountingTask is a clamped counter adjustment executed by the worker.
// Exactly one of UserID and EndpointID is set, depending on Op.
type AccountingTask struct {
	Op         string `json:"op"`
	UserID     string `json:"userId,omitempty"`
	EndpointID string `json:"endpointId,omitempty"`
	Count      int    `json:"count"`
}

// Sweep names for ReaperTask.
const (
	SweepExpiry    = "expiry"
	SweepRetention = "retention"
)

// ReaperTask is one resumable invocation of a batch sweep. Cursor is the
// parent-page cursor; EndpointID or UserID scope a follow-up drain to a
// single parent that yielded a full child batch.
type ReaperTask struct {
	Sweep      string `json:"sweep"`
	Plan       string `json:"plan,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	EndpointID string `json:"endpointId,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// Account deletion phases, drained strictly in this order. The user row goes
// last so no later phase can fail to find its parent.
const (
	PhaseRequests     = "requests"
	PhaseEndpoints    = "endpoints"
	PhaseAPIKeys      = "api_keys"
	PhaseSessions     = "sessions"
	PhaseAuthAccounts = "auth_accounts"
	PhaseUser         = "user"
)

// AccountDeletionTask is one phase step of the cascading account deletion.
type AccountDeletionTask struct {
	UserID string `json:"userId"`
	Phase  string `json:"phase"`
}

// PeriodResetTask fires at a free user's periodEnd and returns the user to
// the lazy "no period" state.
type PeriodResetTask struct {
	UserID string `json:"userId"`
}

// BillingReconcileTask is one page of the daily pro-period reconciliation.
type BillingReconcileTask struct {
	Cursor string `json:"cursor,omitempty"`
}

// Timed task kinds stored in the deferred_tasks table.
const (
	KindPeriodReset = "period.reset"
)

// RoutingKeyForKind maps a stored timed-task kind onto the queue routing key
// it is promoted to when due.
func RoutingKeyForKind(kind string) (string, bool) {
	switch kind {
	case KindPeriodReset:
		return KeyPeriod, true
	default:
		return "", false
	}
}
