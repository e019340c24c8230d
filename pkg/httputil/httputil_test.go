package httputil_test

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/httputil"
	"github.com/rs/zerolog"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
	"github.com/schoolclinic/clinic-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "app error", err: errors.NotFound("batch"), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "conflict", err: errors.Conflict("busy"), wantStatus: http.StatusConflict, wantCode: "CONFLICT"},
		{name: "plain error", err: stderrors.New("pq: connection refused"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			httputil.Error(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp httputil.Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotContains(t, resp.Error.Message, "pq:")
		})
	}
}

func TestJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	httputil.Created(rr, map[string]int{"balance": 15})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"success":true,"data":{"balance":15}}`, rr.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var target struct {
		Quantity int `json:"quantity"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3}`))
	require.NoError(t, httputil.DecodeJSON(req, &target))
	assert.Equal(t, 3, target.Quantity)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":3,"balance":99}`))
	assert.Equal(t, "BAD_REQUEST", errors.CodeOf(httputil.DecodeJSON(req, &target)))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Equal(t, "BAD_REQUEST", errors.CodeOf(httputil.DecodeJSON(req, &target)))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := httputil.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-42", seen)
}

func TestLogger_TagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := &logger.Logger{Logger: zerolog.New(&buf)}

	handler := httputil.RequestID(httputil.Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := testutil.WithRequestID(testutil.NewHTTPRequest(http.MethodPost, "/api/v1/stock/batches/B-1/disposals", nil), "req-77")
	rr := testutil.ExecuteRequest(handler, req)
	testutil.AssertStatus(t, rr, http.StatusCreated)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-77", entry["request_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(http.StatusCreated), entry["status"])
}

func TestRecoverer(t *testing.T) {
	handler := httputil.Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWithUserContext(t *testing.T) {
	ctx := httputil.WithUserContext(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "u-1", "u@school.test", "nurse")

	assert.Equal(t, "u-1", httputil.GetUserID(ctx))
	assert.Equal(t, "u@school.test", httputil.GetUserEmail(ctx))
	assert.Equal(t, "nurse", httputil.GetUserRole(ctx))
}
