package httpapi

import (
	"context"
	"net/http"

	"misp-controlplane/pkg/db/pagination"
	"misp-controlplane/pkg/errutil"
	"misp-controlplane/services/misp"

	"github.com/gin-gonic/gin"
)

// Registry is the part of misp.Service the adapter calls.
type Registry interface {
	Register(ctx context.Context, req misp.RegisterRequest) (*misp.Registration, error)
	Update(ctx context.Context, mispID string, fields misp.UpdateFields) (*misp.Misp, error)
	UpdateStatus(ctx context.Context, mispID string, status misp.Status) (*misp.Misp, error)
	UpdateKeyStatus(ctx context.Context, mispID, licenseKey string, status misp.Status) (*misp.LicenseKey, error)
	ValidateKey(ctx context.Context, mispID, licenseKey string) (*misp.ValidationResult, error)
	RotateKey(ctx context.Context, mispID string) (*misp.LicenseKey, error)
	RetrieveLicense(ctx context.Context, mispID string) (*misp.LicenseKey, error)
	ListKeys(ctx context.Context, mispID string) ([]*misp.LicenseKey, error)
	Get(ctx context.Context, mispID string) (*misp.Misp, error)
	List(ctx context.Context, req misp.ListRequest) (*misp.ListResult, error)
	SearchByOrgPrefix(ctx context.Context, prefix string) ([]*misp.Misp, error)
}

type Handler struct {
	registry Registry
}

func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes mounts the MISP routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/misps")

	g.POST("", envelope(IDCreate), h.Create)
	g.GET("", envelope(IDList), h.List)
	g.GET("/mispId/:mispId", envelope(IDRetrieve), h.Get)
	g.GET("/name/:orgName", envelope(IDSearch), h.Search)

	g.PUT("/:mispId", envelope(IDUpdate), h.Update)
	// Both status routes exist in MOSIP clients.
	g.PATCH("/:mispId", envelope(IDStatusUpdate), h.UpdateStatus)
	g.PATCH("/:mispId/status", envelope(IDStatusUpdate), h.UpdateStatus)

	g.GET("/:mispId/licenseKey", envelope(IDKeyRetrieve), h.RetrieveLicense)
	g.PUT("/:mispId/licenseKey", envelope(IDKeyStatusUpdate), h.UpdateKeyStatus)
	g.PATCH("/:mispId/licenseKey", envelope(IDKeyValidate), h.ValidateKey)
	g.POST("/:mispId/licenseKey/rotate", envelope(IDKeyRotate), h.RotateKey)
	g.GET("/:mispId/licenseKeys", envelope(IDKeyHistory), h.ListKeys)
}

func (h *Handler) Create(c *gin.Context) {
	req, err := bind[createRequest](c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	reg, err := h.registry.Register(c.Request.Context(), misp.RegisterRequest{
		OrgName:       req.OrganizationName,
		Address:       req.Address,
		ContactNumber: req.ContactNumber,
		EmailID:       req.EmailID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, &createResponse{
		MispID:               reg.Misp.ID,
		MispStatus:           string(reg.Misp.Status),
		MispLicenseKey:       reg.LicenseKey.Key,
		MispLicenseKeyExpiry: reg.LicenseKey.ExpiresAt,
		MispLicenseKeyStatus: string(reg.LicenseKey.Status),
	})
}

func (h *Handler) Update(c *gin.Context) {
	req, err := bind[updateRequest](c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	m, err := h.registry.Update(c.Request.Context(), c.Param("mispId"), req.fields())
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toMispDetails(m))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	req, err := bind[statusRequest](c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status, err := parseStatus("mispStatus", req.MispStatus)
	if err != nil {
		_ = c.Error(err)
		return
	}

	m, err := h.registry.UpdateStatus(c.Request.Context(), c.Param("mispId"), status)
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toMispDetails(m))
}

func (h *Handler) UpdateKeyStatus(c *gin.Context) {
	req, err := bind[keyStatusRequest](c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status, err := parseStatus("mispLicenseKeyStatus", req.MispLicenseKeyStatus)
	if err != nil {
		_ = c.Error(err)
		return
	}

	key, err := h.registry.UpdateKeyStatus(c.Request.Context(), c.Param("mispId"), req.MispLicenseKey, status)
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toLicenseDetails(key))
}

// ValidateKey always answers 200 for a known route; an invalid key is
// reported in the body, not as an error.
func (h *Handler) ValidateKey(c *gin.Context) {
	req, err := bind[validateRequest](c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	mispID := c.Param("mispId")
	result, err := h.registry.ValidateKey(c.Request.Context(), mispID, req.MispLicenseKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, &validateResponse{
		MispID:         mispID,
		MispLicenseKey: req.MispLicenseKey,
		Valid:          result.Valid,
		Reason:         string(result.Reason),
	})
}

func (h *Handler) RotateKey(c *gin.Context) {
	key, err := h.registry.RotateKey(c.Request.Context(), c.Param("mispId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toLicenseDetails(key))
}

func (h *Handler) RetrieveLicense(c *gin.Context) {
	key, err := h.registry.RetrieveLicense(c.Request.Context(), c.Param("mispId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toLicenseDetails(key))
}

func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.registry.ListKeys(c.Request.Context(), c.Param("mispId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]*licenseDetails, 0, len(keys))
	for _, k := range keys {
		out = append(out, toLicenseDetails(k))
	}
	respond(c, http.StatusOK, out)
}

func (h *Handler) Get(c *gin.Context) {
	m, err := h.registry.Get(c.Request.Context(), c.Param("mispId"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toMispDetails(m))
}

func (h *Handler) List(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	if page.Limit < 0 {
		_ = c.Error(errutil.BadRequest("limit must not be negative", nil,
			errutil.WithDetails(errutil.Detail{Field: "limit", Message: "must be >= 0"})))
		return
	}

	result, err := h.registry.List(c.Request.Context(), misp.ListRequest{Pagination: page})
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, &listResponse{
		Misps:    toMispDetailsList(result.Misps),
		PageInfo: result.PageInfo,
	})
}

func (h *Handler) Search(c *gin.Context) {
	misps, err := h.registry.SearchByOrgPrefix(c.Request.Context(), c.Param("orgName"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	respond(c, http.StatusOK, toMispDetailsList(misps))
}

func parseStatus(field, raw string) (misp.Status, error) {
	status, ok := misp.ParseStatus(raw)
	if !ok {
		return "", errutil.BadRequest("unknown status "+raw, nil,
			errutil.WithDetails(errutil.Detail{Field: field, Message: "must be active or inactive"}))
	}
	return status, nil
}
