package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"misp-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultVersion = "1.0"

	// MOSIP timestamps carry milliseconds and a literal Z.
	timeLayout = "2006-01-02T15:04:05.000Z"

	ctxEnvelopeID      = "envelope_id"
	ctxEnvelopeVersion = "envelope_version"
)

// RequestWrapper is the inbound MOSIP envelope.
type RequestWrapper[T any] struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	RequestTime string `json:"requesttime"`
	Request     *T     `json:"request" binding:"required"`
}

type ErrorItem struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// ResponseWrapper is the outbound MOSIP envelope. Exactly one of Response and
// Errors is populated.
type ResponseWrapper struct {
	ID           string      `json:"id"`
	Version      string      `json:"version"`
	ResponseTime string      `json:"responsetime"`
	Response     any         `json:"response"`
	Errors       []ErrorItem `json:"errors"`
}

// envelope tags every request on a route with its MOSIP operation id.
func envelope(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxEnvelopeID, id)
		c.Set(ctxEnvelopeVersion, DefaultVersion)
		c.Next()
	}
}

// bind decodes and validates the envelope. The caller's id and version are
// echoed back on the response.
func bind[T any](c *gin.Context) (*T, error) {
	var req RequestWrapper[T]
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, bindError(err)
	}

	if req.ID != "" {
		c.Set(ctxEnvelopeID, req.ID)
	}
	if req.Version != "" {
		c.Set(ctxEnvelopeVersion, req.Version)
	}
	return req.Request, nil
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errutil.BadRequest("malformed request body", err)
	}

	details := make([]errutil.Detail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, errutil.Detail{
			Field:   fe.Field(),
			Message: validationMessage(fe),
		})
	}
	return errutil.BadRequest("request validation failed", err, errutil.WithDetails(details...))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, &ResponseWrapper{
		ID:           c.GetString(ctxEnvelopeID),
		Version:      c.GetString(ctxEnvelopeVersion),
		ResponseTime: time.Now().UTC().Format(timeLayout),
		Response:     data,
	})
}

// renderError is the middleware.ErrorRenderer for MOSIP clients.
func renderError(c *gin.Context, status int, err errutil.BaseError) {
	items := []ErrorItem{{
		ErrorCode: string(err.Code),
		Message:   err.Message,
	}}
	for _, d := range err.Details {
		items = append(items, ErrorItem{
			ErrorCode: string(err.Code),
			Message:   d.Field + " " + d.Message,
		})
	}

	version := c.GetString(ctxEnvelopeVersion)
	if version == "" {
		version = DefaultVersion
	}

	c.AbortWithStatusJSON(status, &ResponseWrapper{
		ID:           c.GetString(ctxEnvelopeID),
		Version:      version,
		ResponseTime: time.Now().UTC().Format(timeLayout),
		Errors:       items,
	})
}

var registerTagName sync.Once

// useJSONFieldNames makes validation errors report json field names.
func useJSONFieldNames() {
	registerTagName.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func noRoute(c *gin.Context) {
	renderError(c, http.StatusNotFound, errutil.BaseError{
		Code:    errutil.StatusNotFound,
		Message: "route not found",
	})
}
