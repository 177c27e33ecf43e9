// Package accesscode manages registration codes and their redemption.
package accesscode

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/suriaral/core/access"
)

// AccessCode is a registration credential, stored at `access_codes/{id}`.
type AccessCode struct {
	ID            string      `json:"id" validate:"required,keysafe"`
	Code          string      `json:"code" validate:"required,accesscode"`
	Role          access.Role `json:"role" validate:"required,role"`
	Label         string      `json:"label"`
	Active        bool        `json:"active"`
	UsageCount    int64       `json:"usageCount"`
	ExpiresAt     null.Time   `json:"expiresAt"`
	SchoolID      null.String `json:"schoolId" validate:"omitempty,keysafe"`
	CreatedAt     time.Time   `json:"createdAt"`
	CreatedBy     string      `json:"createdBy,omitempty"`
	ReactivatedAt null.Time   `json:"reactivatedAt"`
	ReactivatedBy null.String `json:"reactivatedBy"`
}

// IsExpired tells whether the code expired strictly before now.
func (ac AccessCode) IsExpired(now time.Time) bool {
	return ac.ExpiresAt.Valid && now.After(ac.ExpiresAt.Time)
}

// NewAccessCode is the input of Gate.Create. An empty Code gets a random one.
type NewAccessCode struct {
	Code      string      `json:"code" validate:"omitempty,accesscode"`
	Role      access.Role `json:"role" validate:"required,role"`
	Label     string      `json:"label" validate:"max=120"`
	ExpiresAt null.Time   `json:"expiresAt"`
	SchoolID  null.String `json:"schoolId" validate:"omitempty,keysafe"`
}

func (nc *NewAccessCode) Clean() {
	nc.Code = strings.TrimSpace(nc.Code)
	nc.Label = strings.TrimSpace(nc.Label)
	if nc.SchoolID.Valid {
		nc.SchoolID.String = strings.TrimSpace(nc.SchoolID.String)
		nc.SchoolID.Valid = nc.SchoolID.String != ""
	}
}

// Redemption is what a valid code grants to the account created with it.
type Redemption struct {
	CodeID   string      `json:"codeId"`
	Role     access.Role `json:"role"`
	SchoolID null.String `json:"schoolId"`
}

type Reason string

const (
	Malformed            Reason = "malformed"
	NotFound             Reason = "not_found"
	Expired              Reason = "expired"
	Inactive             Reason = "inactive"
	MissingSchoolBinding Reason = "missing_school_binding"
)

var reasonMessages = map[Reason]string{
	Malformed:            "this access code is not valid",
	NotFound:             "this access code does not exist",
	Expired:              "this access code has expired",
	Inactive:             "this access code has been revoked",
	MissingSchoolBinding: "this access code is not bound to a school",
}

// Rejection is the typed refusal of a code.
type Rejection struct {
	Reason Reason `json:"reason"`
}

func (r *Rejection) Error() string {
	if msg, ok := reasonMessages[r.Reason]; ok {
		return msg
	}
	return string(r.Reason)
}
