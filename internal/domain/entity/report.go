package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// MaxItemAmount is the largest amount accepted on a single line item
var MaxItemAmount = decimal.RequireFromString("999999.99")

// MaxDescriptionLength bounds an item description, in characters
const MaxDescriptionLength = 500

// ExpenseReport is an employee's expense report and its review status
type ExpenseReport struct {
	ID              int64          `json:"id"`
	Title           string         `json:"title"`
	Destination     string         `json:"destination"`
	DepartureDate   *time.Time     `json:"departure_date,omitempty"`
	ReturnDate      *time.Time     `json:"return_date,omitempty"`
	SubmitterID     int64          `json:"submitter_id"`
	Status          workflow.State `json:"status"`
	Items           []ExpenseItem  `json:"items"`
	NextItemSeq     int            `json:"next_item_seq"`
	ApprovalComment string         `json:"approval_comment,omitempty"`
	ApproverID      *int64         `json:"approver_id,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActivityAt  time.Time      `json:"last_activity_at"`
}

// ExpenseItem is a single line of an expense report
type ExpenseItem struct {
	Code        string          `json:"code"`
	Date        *time.Time      `json:"date,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// TotalAmount sums the amounts of all items
func (r *ExpenseReport) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// Clone returns a deep copy of the report
func (r *ExpenseReport) Clone() *ExpenseReport {
	c := *r
	c.Items = append([]ExpenseItem(nil), r.Items...)
	c.DepartureDate = cloneTime(r.DepartureDate)
	c.ReturnDate = cloneTime(r.ReturnDate)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	for i := range c.Items {
		c.Items[i].Date = cloneTime(r.Items[i].Date)
	}
	if r.ApproverID != nil {
		id := *r.ApproverID
		c.ApproverID = &id
	}
	return &c
}

// Touch records a state-affecting mutation
func (r *ExpenseReport) Touch(now time.Time) {
	r.LastActivityAt = now
}

// ItemByCode finds an item by its stable code
func (r *ExpenseReport) ItemByCode(code string) (ExpenseItem, bool) {
	for _, item := range r.Items {
		if item.Code == code {
			return item, true
		}
	}
	return ExpenseItem{}, false
}

// ReplaceItems swaps the item list wholesale. Incoming items that carry the code of an
// existing item keep it while their category still yields the same code prefix; every
// other item receives a fresh code from the report's sequence.
func (r *ExpenseReport) ReplaceItems(items []ExpenseItem) {
	existing := make(map[string]bool, len(r.Items))
	for _, item := range r.Items {
		existing[item.Code] = true
	}

	used := make(map[string]bool, len(items))
	replaced := make([]ExpenseItem, 0, len(items))
	for _, item := range items {
		code := strings.TrimSpace(item.Code)
		if code == "" || !existing[code] || used[code] || !codeMatchesCategory(code, item.Category) {
			r.NextItemSeq++
			code = ItemCode(item.Category, r.NextItemSeq)
		}
		used[code] = true
		item.Code = code
		replaced = append(replaced, item)
	}
	r.Items = replaced
}

// Validate checks report fields that do not depend on the lifecycle state
func (r *ExpenseReport) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.DepartureDate != nil && r.ReturnDate != nil && r.DepartureDate.After(*r.ReturnDate) {
		return fmt.Errorf("departure date must not be after return date")
	}
	for i, item := range r.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return nil
}

// Validate checks a single line item
func (i ExpenseItem) Validate() error {
	if strings.TrimSpace(i.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if i.Amount.IsNegative() {
		return fmt.Errorf("amount must not be negative")
	}
	if i.Amount.GreaterThan(MaxItemAmount) {
		return fmt.Errorf("amount must not exceed %s", MaxItemAmount.StringFixed(2))
	}
	if utf8.RuneCountInString(i.Description) > MaxDescriptionLength {
		return fmt.Errorf("description must not exceed %d characters", MaxDescriptionLength)
	}
	return nil
}

// ItemCode derives the stable code of an item: the upper-cased category with
// non-alphanumerics folded to underscores, followed by the sequence number.
func ItemCode(category string, seq int) string {
	return codePrefix(category) + "-" + strconv.Itoa(seq)
}

func codePrefix(category string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(category)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "ITEM"
	}
	return b.String()
}

// codeMatchesCategory reports whether code was derived from category
func codeMatchesCategory(code, category string) bool {
	i := strings.LastIndex(code, "-")
	return i > 0 && code[:i] == codePrefix(category)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
