package httpapi

import (
	"time"

	"misp-controlplane/pkg/db/pagination"
	"misp-controlplane/services/misp"
)

const (
	IDCreate          = "mosip.partnermanagement.misp.create"
	IDUpdate          = "mosip.partnermanagement.misp.update"
	IDStatusUpdate    = "mosip.partnermanagement.misp.status.update"
	IDKeyStatusUpdate = "mosip.partnermanagement.misp.license.status.update"
	IDKeyValidate     = "mosip.partnermanagement.misp.license.validate"
	IDKeyRotate       = "mosip.partnermanagement.misp.license.rotate"
	IDKeyRetrieve     = "mosip.partnermanagement.misp.license.retrieve"
	IDKeyHistory      = "mosip.partnermanagement.misp.license.history"
	IDRetrieve        = "mosip.partnermanagement.misp.retrieve"
	IDList            = "mosip.partnermanagement.misp.list"
	IDSearch          = "mosip.partnermanagement.misp.search"
)

type createRequest struct {
	OrganizationName string `json:"organizationName" binding:"required,max=128"`
	Address          string `json:"address" binding:"max=256"`
	ContactNumber    string `json:"contactNumber" binding:"max=16"`
	EmailID          string `json:"emailID" binding:"omitempty,email,max=254"`
}

type createResponse struct {
	MispID               string    `json:"mispId"`
	MispStatus           string    `json:"mispStatus"`
	MispLicenseKey       string    `json:"mispLicenseKey"`
	MispLicenseKeyExpiry time.Time `json:"mispLicenseKeyExpiry"`
	MispLicenseKeyStatus string    `json:"mispLicenseKeyStatus"`
}

type updateRequest struct {
	OrganizationName *string `json:"organizationName" binding:"omitempty,max=128"`
	Address          *string `json:"address" binding:"omitempty,max=256"`
	ContactNumber    *string `json:"contactNumber" binding:"omitempty,max=16"`
	EmailID          *string `json:"emailID" binding:"omitempty,email,max=254"`
}

func (r *updateRequest) fields() misp.UpdateFields {
	return misp.UpdateFields{
		OrgName:       r.OrganizationName,
		Address:       r.Address,
		ContactNumber: r.ContactNumber,
		EmailID:       r.EmailID,
	}
}

type statusRequest struct {
	MispStatus string `json:"mispStatus" binding:"required"`
}

type keyStatusRequest struct {
	// Empty addresses the account's current active key.
	MispLicenseKey       string `json:"mispLicenseKey"`
	MispLicenseKeyStatus string `json:"mispLicenseKeyStatus" binding:"required"`
}

type validateRequest struct {
	MispLicenseKey string `json:"mispLicenseKey" binding:"required"`
}

type validateResponse struct {
	MispID         string `json:"mispId"`
	MispLicenseKey string `json:"mispLicenseKey"`
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
}

type mispDetails struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ContactNumber string    `json:"contactNumber"`
	EmailID       string    `json:"emailId"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toMispDetails(m *misp.Misp) *mispDetails {
	return &mispDetails{
		ID:            m.ID,
		Name:          m.OrgName,
		Address:       m.Address,
		ContactNumber: m.ContactNumber,
		EmailID:       m.EmailID,
		Status:        string(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toMispDetailsList(misps []*misp.Misp) []*mispDetails {
	out := make([]*mispDetails, 0, len(misps))
	for _, m := range misps {
		out = append(out, toMispDetails(m))
	}
	return out
}

type licenseDetails struct {
	MispID    string    `json:"mispId"`
	Key       string    `json:"mispLicenseKey"`
	Status    string    `json:"mispLicenseKeyStatus"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func toLicenseDetails(k *misp.LicenseKey) *licenseDetails {
	return &licenseDetails{
		MispID:    k.MispID,
		Key:       k.Key,
		Status:    string(k.Status),
		IssuedAt:  k.IssuedAt,
		ExpiresAt: k.ExpiresAt,
	}
}

type listResponse struct {
	Misps    []*mispDetails       `json:"misps"`
	PageInfo *pagination.PageInfo `json:"pageInfo"`
}
