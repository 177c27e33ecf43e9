package faculty

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core/access"
)

// Employment defaults of records synthesized for accounts.
const (
	PendingEmployeeID = "PENDING"
	StatusPermanent   = "Permanent"
)

// RetentionWindow is how long a soft-deleted record stays restorable before it can be purged.
const RetentionWindow = 7 * 24 * time.Hour

// Record is a teacher/admin employment record, stored at `teachers/{id}`.
// It is loosely linked to a profile through LinkedAccountID.
type Record struct {
	ID              string      `json:"id" validate:"required,keysafe"`
	FirstName       string      `json:"firstName" validate:"required"`
	LastName        string      `json:"lastName"`
	Email           string      `json:"email" validate:"omitempty,email"`
	Phone           string      `json:"phone,omitempty"`
	EmployeeID      string      `json:"employeeId"`
	Position        string      `json:"position"`
	Status          string      `json:"status"`
	Role            access.Role `json:"role,omitempty" validate:"omitempty,role"`
	SchoolID        null.String `json:"schoolId"`
	LinkedAccountID null.String `json:"linkedAccountId"`
	HasAccount      bool        `json:"hasAccount"`
	CreatedAt       time.Time   `json:"createdAt"`
	DeletedAt       null.Time   `json:"deletedAt"`
}

func (r Record) IsDeleted() bool { return r.DeletedAt.Valid }

func (r Record) IsLinkedTo(uid string) bool {
	return r.LinkedAccountID.Valid && r.LinkedAccountID.String == uid
}

// Fields is a partial Record for merge writes: nil fields are left untouched.
type Fields struct {
	Role            *access.Role
	SchoolID        *null.String
	LinkedAccountID *null.String
	HasAccount      *bool
	DeletedAt       *null.Time
}

func (f Fields) toMap() map[string]interface{} {
	m := make(map[string]interface{})
	if f.Role != nil {
		m["role"] = *f.Role
	}
	if f.SchoolID != nil {
		m["schoolId"] = *f.SchoolID
	}
	if f.LinkedAccountID != nil {
		m["linkedAccountId"] = *f.LinkedAccountID
	}
	if f.HasAccount != nil {
		m["hasAccount"] = *f.HasAccount
	}
	if f.DeletedAt != nil {
		m["deletedAt"] = *f.DeletedAt
	}
	return m
}

// Unlinked are the fields detaching a record from its account.
func Unlinked() Fields {
	link := null.String{}
	hasAccount := false
	return Fields{LinkedAccountID: &link, HasAccount: &hasAccount}
}

// IsPurgeable tells whether rec was soft-deleted more than RetentionWindow before now.
// Both the trash listing and the purge rely on it.
func IsPurgeable(rec Record, now time.Time) bool {
	return rec.DeletedAt.Valid && now.Sub(rec.DeletedAt.Time) > RetentionWindow
}

// InTrash tells whether rec is soft-deleted and still restorable.
func InTrash(rec Record, now time.Time) bool {
	return rec.DeletedAt.Valid && !IsPurgeable(rec, now)
}

type View int

const (
	ViewActive View = iota
	ViewTrash
	ViewAll
)

// Filter selects the records shown in a given view at now. Purgeable records are never shown.
func Filter(recs []Record, view View, now time.Time) []Record {
	res := make([]Record, 0, len(recs))
	for _, rec := range recs {
		switch {
		case IsPurgeable(rec, now):
			continue
		case view == ViewActive && rec.IsDeleted():
			continue
		case view == ViewTrash && !InTrash(rec, now):
			continue
		}
		res = append(res, rec)
	}
	return res
}
