package event

// Type identifies the type of domain event
type Type string

const (
	TypeReportCreated        Type = "report.created"
	TypeReportUpdated        Type = "report.updated"
	TypeStatusChanged        Type = "report.status_changed"
	TypeSpecialReviewOpened  Type = "special_review.opened"
	TypeSpecialReviewDecided Type = "special_review.decided"
)

// All lists every event type in publication order of a report's life
func All() []Type {
	return []Type{
		TypeReportCreated,
		TypeReportUpdated,
		TypeStatusChanged,
		TypeSpecialReviewOpened,
		TypeSpecialReviewDecided,
	}
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeReportCreated,
		TypeReportUpdated,
		TypeStatusChanged,
		TypeSpecialReviewOpened,
		TypeSpecialReviewDecided:
		return true
	default:
		return false
	}
}
