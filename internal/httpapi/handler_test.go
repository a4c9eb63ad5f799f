package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/errutil"
	"misp-controlplane/pkg/gen"
	"misp-controlplane/pkg/health"
	"misp-controlplane/pkg/sequence"
	"misp-controlplane/services/misp"
	"misp-controlplane/services/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type testResponse struct {
	ID           string          `json:"id"`
	Version      string          `json:"version"`
	ResponseTime string          `json:"responsetime"`
	Response     json.RawMessage `json:"response"`
	Errors       []ErrorItem     `json:"errors"`
}

func newTestService(t *testing.T) *misp.Service {
	t.Helper()

	cfg := &config.Config{}
	cfg.License.ValidityPeriod = 90 * 24 * time.Hour
	cfg.License.KeyLength = 50
	cfg.License.MaxGenerateAttempts = 5

	db := testutil.NewTestDB(t)
	require.NoError(t, misp.Migrate(db))

	node, err := gen.NewSnowflakeNode(1)
	require.NoError(t, err)

	svc, err := misp.NewService(misp.ServiceParams{
		DB:             db,
		Seq:            sequence.NewNodeGenerator(node, sequence.FormatFromConfig(cfg)),
		Config:         cfg,
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	})
	require.NoError(t, err)
	return svc
}

func newTestRouter(t *testing.T, registry Registry) *gin.Engine {
	t.Helper()
	return NewRouter(RouterParams{
		Handler: NewHandler(registry),
		Health:  health.ProvideHealth(health.HealthParams{}),
	})
}

func do(t *testing.T, r *gin.Engine, method, path string, request any) (*httptest.ResponseRecorder, *testResponse) {
	t.Helper()

	var body *bytes.Reader
	if request != nil {
		raw, err := json.Marshal(request)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out testResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, &out
}

func wrap(request any) map[string]any {
	return map[string]any{
		"id":          "test.request",
		"version":     "1.0",
		"requesttime": "2026-01-01T09:00:00.000Z",
		"request":     request,
	}
}

func decode[T any](t *testing.T, resp *testResponse) *T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Response, &out))
	return &out
}

func register(t *testing.T, r *gin.Engine, org string) *createResponse {
	t.Helper()
	w, resp := do(t, r, http.MethodPost, "/misps", wrap(map[string]any{
		"organizationName": org,
		"address":          "1 Main St",
		"contactNumber":    "5550100",
		"emailID":          "ops@example.com",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[createResponse](t, resp)
}

func TestCreate_RegistersAccountWithKey(t *testing.T) {
	r := newTestRouter(t, newTestService(t))

	w, resp := do(t, r, http.MethodPost, "/misps", wrap(map[string]any{"organizationName": "Acme"}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test.request", resp.ID)
	require.Equal(t, "1.0", resp.Version)
	require.Empty(t, resp.Errors)

	_, err := time.Parse(timeLayout, resp.ResponseTime)
	require.NoError(t, err)

	created := decode[createResponse](t, resp)
	require.NotEmpty(t, created.MispID)
	require.Len(t, created.MispLicenseKey, 50)
	require.Equal(t, "active", created.MispStatus)
	require.Equal(t, "active", created.MispLicenseKeyStatus)
	require.True(t, created.MispLicenseKeyExpiry.After(time.Now().Add(89*24*time.Hour)))
}

func TestCreate_ValidationErrors(t *testing.T) {
	r := newTestRouter(t, newTestService(t))

	cases := []struct {
		name    string
		body    any
		message string
	}{
		{
			name:    "missing organization",
			body:    wrap(map[string]any{"address": "somewhere"}),
			message: "organizationName is required",
		},
		{
			name:    "bad email",
			body:    wrap(map[string]any{"organizationName": "Acme", "emailID": "not-an-email"}),
			message: "emailID must be a valid email address",
		},
		{
			name:    "missing request",
			body:    map[string]any{"id": "x", "version": "1.0"},
			message: "request is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := do(t, r, http.MethodPost, "/misps", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.JSONEq(t, "null", string(resp.Response))
			require.NotEmpty(t, resp.Errors)
			require.Equal(t, string(errutil.StatusBadRequest), resp.Errors[0].ErrorCode)

			messages := make([]string, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				messages = append(messages, e.Message)
			}
			require.Contains(t, messages, tc.message)
		})
	}
}

func TestCreate_MalformedJSON(t *testing.T) {
	r := newTestRouter(t, newTestService(t))

	req := httptest.NewRequest(http.MethodPost, "/misps", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateKey_Reasons(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")
	other := register(t, r, "Other")

	validate := func(mispID, key string) *validateResponse {
		w, resp := do(t, r, http.MethodPatch, "/misps/"+mispID+"/licenseKey", wrap(map[string]any{"mispLicenseKey": key}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[validateResponse](t, resp)
	}

	got := validate(acme.MispID, acme.MispLicenseKey)
	require.True(t, got.Valid)
	require.Empty(t, got.Reason)

	got = validate(acme.MispID, "short")
	require.False(t, got.Valid)
	require.Equal(t, string(misp.ReasonMalformedKey), got.Reason)

	got = validate(acme.MispID, other.MispLicenseKey)
	require.False(t, got.Valid)
	require.Equal(t, string(misp.ReasonKeyNotAssociated), got.Reason)
}

func TestUpdateKeyStatus_DeactivateIsTerminal(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")
	path := "/misps/" + acme.MispID + "/licenseKey"

	w, resp := do(t, r, http.MethodPut, path, wrap(map[string]any{
		"mispLicenseKey":       acme.MispLicenseKey,
		"mispLicenseKeyStatus": "InActive",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "inactive", decode[licenseDetails](t, resp).Status)

	w, resp = do(t, r, http.MethodPatch, path, wrap(map[string]any{"mispLicenseKey": acme.MispLicenseKey}))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(misp.ReasonKeyInactiveOrExpired), decode[validateResponse](t, resp).Reason)

	w, resp = do(t, r, http.MethodPut, path, wrap(map[string]any{
		"mispLicenseKey":       acme.MispLicenseKey,
		"mispLicenseKeyStatus": "Active",
	}))
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "test.request", resp.ID)
	require.Equal(t, string(errutil.StatusInvalidTransition), resp.Errors[0].ErrorCode)
}

func TestUpdateKeyStatus_UnknownStatus(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")

	w, resp := do(t, r, http.MethodPut, "/misps/"+acme.MispID+"/licenseKey", wrap(map[string]any{
		"mispLicenseKeyStatus": "suspended",
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, string(errutil.StatusBadRequest), resp.Errors[0].ErrorCode)
}

func TestRotateKey_ReplacesActiveKey(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")

	w, resp := do(t, r, http.MethodPost, "/misps/"+acme.MispID+"/licenseKey/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, IDKeyRotate, resp.ID)

	rotated := decode[licenseDetails](t, resp)
	require.NotEqual(t, acme.MispLicenseKey, rotated.Key)
	require.Equal(t, "active", rotated.Status)

	w, resp = do(t, r, http.MethodGet, "/misps/"+acme.MispID+"/licenseKey", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, rotated.Key, decode[licenseDetails](t, resp).Key)

	w, resp = do(t, r, http.MethodGet, "/misps/"+acme.MispID+"/licenseKeys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := *decode[[]licenseDetails](t, resp)
	require.Len(t, history, 2)

	statuses := map[string]string{}
	for _, k := range history {
		statuses[k.Key] = k.Status
	}
	require.Equal(t, "inactive", statuses[acme.MispLicenseKey])
	require.Equal(t, "active", statuses[rotated.Key])
}

func TestStatusRoutes(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")

	for _, path := range []string{"/misps/" + acme.MispID, "/misps/" + acme.MispID + "/status"} {
		w, resp := do(t, r, http.MethodPatch, path, wrap(map[string]any{"mispStatus": "inactive"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, "inactive", decode[mispDetails](t, resp).Status)
	}

	w, _ := do(t, r, http.MethodPatch, "/misps/"+acme.MispID, wrap(map[string]any{"mispStatus": "paused"}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := do(t, r, http.MethodPatch, "/misps/missing/status", wrap(map[string]any{"mispStatus": "active"}))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, string(errutil.StatusNotFound), resp.Errors[0].ErrorCode)
}

func TestUpdate_PartialFields(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")

	w, resp := do(t, r, http.MethodPut, "/misps/"+acme.MispID, wrap(map[string]any{"address": "2 Side St"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[mispDetails](t, resp)
	require.Equal(t, "Acme", got.Name)
	require.Equal(t, "2 Side St", got.Address)
	require.Equal(t, "ops@example.com", got.EmailID)

	w, _ = do(t, r, http.MethodPut, "/misps/"+acme.MispID, wrap(map[string]any{"emailID": "nope"}))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReads(t *testing.T) {
	r := newTestRouter(t, newTestService(t))
	acme := register(t, r, "Acme")
	register(t, r, "Acorn")
	register(t, r, "Globex")

	w, resp := do(t, r, http.MethodGet, "/misps/mispId/"+acme.MispID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, IDRetrieve, resp.ID)
	require.Equal(t, "Acme", decode[mispDetails](t, resp).Name)

	w, resp = do(t, r, http.MethodGet, "/misps/mispId/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, IDRetrieve, resp.ID)
	require.Equal(t, DefaultVersion, resp.Version)

	w, resp = do(t, r, http.MethodGet, "/misps/name/ac", nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := *decode[[]mispDetails](t, resp)
	require.Len(t, found, 2)

	w, resp = do(t, r, http.MethodGet, "/misps?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[listResponse](t, resp)
	require.Len(t, page.Misps, 2)
	require.True(t, page.PageInfo.HasMore)
	require.NotEmpty(t, page.PageInfo.NextCursor)

	w, resp = do(t, r, http.MethodGet, "/misps?limit=2&cursor="+url.QueryEscape(page.PageInfo.NextCursor), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[listResponse](t, resp)
	require.Len(t, page.Misps, 1)
	require.False(t, page.PageInfo.HasMore)

	w, _ = do(t, r, http.MethodGet, "/misps?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	r := newTestRouter(t, newTestService(t))

	w, _ := do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := do(t, r, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, string(errutil.StatusNotFound), resp.Errors[0].ErrorCode)
}

type failingRegistry struct {
	Registry
}

func (failingRegistry) Get(context.Context, string) (*misp.Misp, error) {
	return nil, errors.New("connection reset")
}

func TestInternalErrorUsesEnvelope(t *testing.T) {
	r := newTestRouter(t, failingRegistry{})

	w, resp := do(t, r, http.MethodGet, "/misps/mispId/any", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, IDRetrieve, resp.ID)
	require.Equal(t, string(errutil.StatusInternal), resp.Errors[0].ErrorCode)
	require.Equal(t, "internal server error", resp.Errors[0].Message)
}
