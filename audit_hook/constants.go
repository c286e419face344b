package audithook

// Action constants for audit events.
const (
	// Package actions
	ActionPackagePurchased = "package.purchased"
	ActionPackageConsumed  = "package.consumed"
	ActionConsumeRejected  = "package.consume_rejected"
	ActionPackageRefunded  = "package.refunded"
	ActionRefundClamped    = "package.refund_clamped"

	// Billing line actions
	ActionLineReconciled = "billing_line.reconciled"
	ActionLineUnbound    = "billing_line.unbound"

	// Store actions
	ActionStoreFailure = "store.failure"
)

// Resource constants for audit events.
const (
	ResourcePackageEntry = "package_entry"
	ResourceBillingLine  = "billing_line"
	ResourceStore        = "store"
)

// Category constants for audit events.
const (
	CategoryPackage        = "package"
	CategoryBilling        = "billing"
	CategoryInfrastructure = "infrastructure"
)

// Severity levels for audit events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
