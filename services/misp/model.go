package misp

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus accepts the canonical values plus the "Active"/"InActive" spelling
// used by MOSIP clients.
func ParseStatus(v string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(v))) {
	case StatusActive:
		return StatusActive, true
	case StatusInactive:
		return StatusInactive, true
	default:
		return "", false
	}
}

type Misp struct {
	ID            string    `gorm:"column:misp_id;primaryKey"`
	OrgName       string    `gorm:"column:org_name;not null;index"`
	OrgNameFolded string    `gorm:"column:org_name_folded;not null;default:'';index"`
	Address       string    `gorm:"column:address"`
	ContactNumber string    `gorm:"column:contact_number"`
	EmailID       string    `gorm:"column:email_id"`
	Status        Status    `gorm:"column:status;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (Misp) TableName() string { return "misps" }

// foldOrgName is the stored form behind case-insensitive search. sqlite LOWER
// only folds ASCII.
func foldOrgName(name string) string {
	return strings.ToLower(name)
}

// LicenseKey is one credential issued to a Misp. Retired keys stay as history.
type LicenseKey struct {
	Key              string     `gorm:"column:license_key;primaryKey"`
	MispID           string     `gorm:"column:misp_id;not null;index"`
	Status           Status     `gorm:"column:status;not null;index"`
	IssuedAt         time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null;index"`
	ExpiryNotifiedAt *time.Time `gorm:"column:expiry_notified_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (LicenseKey) TableName() string { return "misp_license_keys" }

type Reason string

const (
	ReasonMalformedKey         Reason = "MALFORMED_KEY"
	ReasonKeyNotAssociated     Reason = "KEY_NOT_ASSOCIATED"
	ReasonKeyInactiveOrExpired Reason = "KEY_INACTIVE_OR_EXPIRED"
)

// ValidationResult is the outcome of ValidateKey. Reason is empty when Valid.
type ValidationResult struct {
	Valid  bool
	Reason Reason
}

type RegisterRequest struct {
	OrgName       string
	Address       string
	ContactNumber string
	EmailID       string
}

type Registration struct {
	Misp       *Misp
	LicenseKey *LicenseKey
}

// UpdateFields holds a partial update; nil fields are left untouched.
type UpdateFields struct {
	OrgName       *string
	Address       *string
	ContactNumber *string
	EmailID       *string
}
