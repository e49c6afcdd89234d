package entity

// Audit actions recorded for report transitions
const (
	AuditActionCreated            = "CREATED"
	AuditActionUpdated            = "UPDATED"
	AuditActionSubmitted          = "SUBMITTED"
	AuditActionSubmittedForReview = "SUBMITTED_FOR_REVIEW"
	AuditActionApproved           = "APPROVED"
	AuditActionRejected           = "REJECTED"
	AuditActionExceptionsApproved = "EXCEPTIONS_APPROVED"
	AuditActionExceptionRejected  = "EXCEPTION_REJECTED"
)

// Report summary sort orders
const (
	SortActivityDesc = "activity_desc"
	SortActivityAsc  = "activity_asc"
	SortCreatedDesc  = "created_desc"
	SortCreatedAsc   = "created_asc"
	SortAmountDesc   = "amount_desc"
	SortAmountAsc    = "amount_asc"
	SortTitleAsc     = "title_asc"
)
