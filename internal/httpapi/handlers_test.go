package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/identity"
	remotemem "github.com/prinzana/sellyticsOffline-sub004/internal/remote/memory"
	"github.com/prinzana/sellyticsOffline-sub004/internal/service"
	localmem "github.com/prinzana/sellyticsOffline-sub004/internal/store/memory"
	"github.com/prinzana/sellyticsOffline-sub004/internal/syncengine"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testStore  = "test-store"
	testPIN    = "739154"
)

type testAPI struct {
	api      *API
	handler  http.Handler
	backend  *remotemem.Backend
	conn     *connectivity.Tracker
	resolver *identity.Resolver
}

// newTestAPI wires the real service, sync engine and resolver over in-memory
// stores so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	local := localmem.New()
	backend := remotemem.NewSeeded(testStore)
	conn := connectivity.NewTracker(zap.NewNop())
	engine := syncengine.New(local, backend, conn, nil, zap.NewNop())
	svc := service.New(local, backend, conn, engine.Pusher(), zap.NewNop())
	resolver := identity.NewResolver(testSecret, local)

	api := New(Deps{
		Service:       svc,
		Engine:        engine,
		Resolver:      resolver,
		Conn:          conn,
		PIN:           NewPINGuard(testPIN),
		AllowedOrigin: "*",
	})
	return testAPI{api: api, handler: api.Handler(), backend: backend, conn: conn, resolver: resolver}
}

func (ta testAPI) token(t *testing.T, id domain.Identity) string {
	t.Helper()
	token, err := ta.resolver.Sign(id, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (ta testAPI) do(t *testing.T, method string, path string, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", ta.api.generateCSRFToken())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res := httptest.NewRecorder()
	ta.handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

var (
	cashier = domain.Identity{UserID: "kasir-a", StoreID: testStore}
	owner   = domain.Identity{UserID: "owner", StoreID: testStore, IsOwner: true}
)

func TestHandleHealth(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	decodeBody(t, res, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestProtectedRouteWithoutSessionIsUnauthorized(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodGet, "/api/v1/pending", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	res = ta.do(t, http.MethodGet, "/api/v1/pending", "not-a-token", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.Code)
	}
}

func TestSavedSessionAuthenticatesRequests(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodPost, "/api/v1/session", "", sessionRequest{Token: ta.token(t, cashier)})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 saving session, got %d: %s", res.Code, res.Body.String())
	}

	res = ta.do(t, http.MethodGet, "/api/v1/session", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected saved session to authenticate, got %d", res.Code)
	}
	var body struct {
		Identity domain.Identity `json:"identity"`
	}
	decodeBody(t, res, &body)
	if body.Identity != cashier {
		t.Fatalf("unexpected identity %#v", body.Identity)
	}

	res = ta.do(t, http.MethodDelete, "/api/v1/session", "", nil)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 clearing session, got %d", res.Code)
	}
	res = ta.do(t, http.MethodGet, "/api/v1/session", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after clear, got %d", res.Code)
	}
}

func TestCartScanCommitFlow(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.token(t, cashier)

	if res := ta.do(t, http.MethodPost, "/api/v1/cache/warm", token, nil); res.Code != http.StatusOK {
		t.Fatalf("warm cache: expected 200, got %d: %s", res.Code, res.Body.String())
	}

	res := ta.do(t, http.MethodPost, "/api/v1/carts", token, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("create cart: expected 201, got %d", res.Code)
	}
	var created struct {
		Cart struct {
			ID string `json:"id"`
		} `json:"cart"`
	}
	decodeBody(t, res, &created)
	cartPath := "/api/v1/carts/" + created.Cart.ID

	res = ta.do(t, http.MethodPost, cartPath+"/scan", token, scanRequest{Source: "camera", Code: "IMEI-350000000000001"})
	var scanned struct {
		Status string `json:"status"`
	}
	decodeBody(t, res, &scanned)
	if scanned.Status != "accepted" {
		t.Fatalf("expected accepted scan, got %q", scanned.Status)
	}

	res = ta.do(t, http.MethodPost, cartPath+"/scan", token, scanRequest{Source: "manual", Code: "imei-350000000000001"})
	decodeBody(t, res, &scanned)
	if scanned.Status == "accepted" {
		t.Fatalf("expected repeated device not to be accepted twice")
	}

	res = ta.do(t, http.MethodPost, cartPath+"/keys", token, keysRequest{Keys: "8991234\n"})
	if res.Code != http.StatusOK {
		t.Fatalf("keys: expected 200, got %d", res.Code)
	}

	res = ta.do(t, http.MethodPost, cartPath+"/commit", token, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("commit: expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var outcome domain.CommitOutcome
	decodeBody(t, res, &outcome)
	if outcome.Mode != domain.CommitOnline || outcome.Total != 250000000+7500000 {
		t.Fatalf("unexpected outcome %#v", outcome)
	}

	res = ta.do(t, http.MethodGet, "/api/v1/sales", token, nil)
	var sales struct {
		Sales []service.SaleView `json:"sales"`
	}
	decodeBody(t, res, &sales)
	if len(sales.Sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(sales.Sales))
	}
}

func TestOfflineCommitThenSync(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.token(t, cashier)
	ta.do(t, http.MethodPost, "/api/v1/cache/warm", token, nil)
	ta.backend.SetOnline(false)
	ta.conn.SetOnline(false)

	res := ta.do(t, http.MethodPost, "/api/v1/carts", token, nil)
	var created struct {
		Cart struct {
			ID string `json:"id"`
		} `json:"cart"`
	}
	decodeBody(t, res, &created)
	cartPath := "/api/v1/carts/" + created.Cart.ID
	ta.do(t, http.MethodPost, cartPath+"/scan", token, scanRequest{Code: "8997001"})

	res = ta.do(t, http.MethodPost, cartPath+"/commit", token, nil)
	if res.Code != http.StatusAccepted {
		t.Fatalf("offline commit: expected 202, got %d: %s", res.Code, res.Body.String())
	}

	res = ta.do(t, http.MethodGet, "/api/v1/sync/status", token, nil)
	var status struct {
		QueueCount int `json:"queue_count"`
	}
	decodeBody(t, res, &status)
	if status.QueueCount != 1 {
		t.Fatalf("expected 1 queued sale, got %d", status.QueueCount)
	}

	ta.backend.SetOnline(true)
	res = ta.do(t, http.MethodPost, "/api/v1/sync", token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", res.Code)
	}
	var report domain.SyncReport
	decodeBody(t, res, &report)
	if report.Synced != 1 {
		t.Fatalf("expected 1 synced entry, got %#v", report)
	}
}

func TestUnknownCartIsNotFound(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodGet, "/api/v1/carts/nope", ta.token(t, cashier), nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestResumeWithoutPauseIsConflict(t *testing.T) {
	ta := newTestAPI(t)
	res := ta.do(t, http.MethodPost, "/api/v1/sync/resume", ta.token(t, cashier), nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusUnprocessableEntity: domain.ValidationError("op", "bad"),
		http.StatusConflict:            domain.DuplicateDeviceError("op", "IMEI-1"),
		http.StatusForbidden:           domain.PermissionError("op", "no"),
		http.StatusServiceUnavailable:  domain.NetworkError("op", context.DeadlineExceeded),
		http.StatusPreconditionFailed:  domain.ConfigurationError("op", "no store"),
		http.StatusNotFound:            service.ErrCartNotFound,
	}
	for want, err := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
