package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/cart"
	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/identity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/metrics"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/scan"
	"github.com/prinzana/sellyticsOffline-sub004/internal/service"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
	"github.com/prinzana/sellyticsOffline-sub004/internal/syncengine"
)

type API struct {
	service        *service.Service
	engine         *syncengine.Engine
	resolver       *identity.Resolver
	conn           *connectivity.Tracker
	pin            *PINGuard
	allowedOrigin  string
	sessionLimiter *clientLimiter
	pinLimiter     *clientLimiter
	csrfSecret     []byte
	logger         *zap.Logger
}

type Deps struct {
	Service       *service.Service
	Engine        *syncengine.Engine
	Resolver      *identity.Resolver
	Conn          *connectivity.Tracker
	PIN           *PINGuard
	AllowedOrigin string
	Logger        *zap.Logger
}

func New(d Deps) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:        d.Service,
		engine:         d.Engine,
		resolver:       d.Resolver,
		conn:           d.Conn,
		pin:            d.PIN,
		allowedOrigin:  d.AllowedOrigin,
		sessionLimiter: newClientLimiter(5, time.Minute),
		pinLimiter:     newClientLimiter(8, time.Minute),
		csrfSecret:     csrfSecret,
		logger:         logger.Named("http"),
	}
}

// csrfTokenForHour is a hex HMAC-SHA256 of the hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("POST /api/v1/session", a.handleSessionSet)
	mux.HandleFunc("GET /api/v1/session", a.requireAuth(a.handleSessionShow))
	mux.HandleFunc("DELETE /api/v1/session", a.requireAuth(a.handleSessionClear))

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleProducts))
	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleCustomers))
	mux.HandleFunc("POST /api/v1/cache/warm", a.requireAuth(a.handleWarmCache))

	mux.HandleFunc("POST /api/v1/carts", a.requireAuth(a.handleCartCreate))
	mux.HandleFunc("GET /api/v1/carts/{cart}", a.requireAuth(a.handleCartShow))
	mux.HandleFunc("PATCH /api/v1/carts/{cart}", a.requireAuth(a.handleCartUpdate))
	mux.HandleFunc("DELETE /api/v1/carts/{cart}", a.requireAuth(a.handleCartDiscard))
	mux.HandleFunc("POST /api/v1/carts/{cart}/lines", a.requireAuth(a.handleLineAdd))
	mux.HandleFunc("PATCH /api/v1/carts/{cart}/lines/{line}", a.requireAuth(a.handleLineUpdate))
	mux.HandleFunc("DELETE /api/v1/carts/{cart}/lines/{line}", a.requireAuth(a.handleLineRemove))
	mux.HandleFunc("POST /api/v1/carts/{cart}/lines/{line}/rows", a.requireAuth(a.handleRowAdd))
	mux.HandleFunc("DELETE /api/v1/carts/{cart}/lines/{line}/rows/{row}", a.requireAuth(a.handleRowRemove))
	mux.HandleFunc("POST /api/v1/carts/{cart}/lines/{line}/rows/{row}/confirm", a.requireAuth(a.handleRowConfirm))
	mux.HandleFunc("POST /api/v1/carts/{cart}/scan", a.requireAuth(a.handleScan))
	mux.HandleFunc("POST /api/v1/carts/{cart}/keys", a.requireAuth(a.handleKeys))
	mux.HandleFunc("POST /api/v1/carts/{cart}/commit", a.requireAuth(a.handleCommit))

	mux.HandleFunc("POST /api/v1/sync", a.requireAuth(a.handleSyncRun))
	mux.HandleFunc("POST /api/v1/sync/pause", a.requireAuth(a.handleSyncPause))
	mux.HandleFunc("POST /api/v1/sync/resume", a.requireAuth(a.handleSyncResume))
	mux.HandleFunc("GET /api/v1/sync/status", a.requireAuth(a.handleSyncStatus))
	mux.HandleFunc("POST /api/v1/sync/clear", a.requireAuth(a.handleQueueClear))

	mux.HandleFunc("GET /api/v1/pending", a.requireAuth(a.handlePendingList))
	mux.HandleFunc("DELETE /api/v1/pending/{ref}", a.requireAuth(a.handlePendingDelete))
	mux.HandleFunc("POST /api/v1/pending/{ref}/retry", a.requireAuth(a.handlePendingRetry))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleSalesList))
	mux.HandleFunc("PATCH /api/v1/sales/{sale}", a.requireAuth(a.handleSaleUpdate))
	mux.HandleFunc("DELETE /api/v1/sales/{sale}", a.requireAuth(a.handleSaleDelete))

	return metrics.InstrumentHandler(a.withMiddleware(mux))
}

// requireAuth resolves the caller from a bearer token, falling back to the
// terminal's saved session.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			id  domain.Identity
			err error
		)
		if token := bearerToken(r); token != "" {
			id, err = a.resolver.FromToken(token)
		} else {
			id, err = a.resolver.Resolve(r.Context())
		}
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, domain.ErrConfiguration) {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			a.writeServiceError(w, err)
			return
		}
		next(w, r.WithContext(service.WithIdentity(r.Context(), id)))
	}
}

func mustIdentity(r *http.Request) domain.Identity {
	id, _ := service.IdentityFromContext(r.Context())
	return id
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"online": a.conn.Online(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

// csrfExemptPaths are called before the UI holds a CSRF token.
var csrfExemptPaths = []string{
	"/api/v1/session",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt && r.Method == http.MethodPost {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type sessionRequest struct {
	Token string `json:"token"`
}

func (a *API) handleSessionSet(w http.ResponseWriter, r *http.Request) {
	if !a.sessionLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many session attempts"))
		return
	}
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := a.resolver.SaveSession(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, domain.ErrConfiguration) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	a.logger.Info("session saved", zap.String("store_id", id.StoreID), zap.String("user_id", id.UserID))
	writeJSON(w, http.StatusOK, map[string]any{"identity": id})
}

func (a *API) handleSessionShow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"identity": mustIdentity(r)})
}

func (a *API) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if err := a.resolver.ClearSession(r.Context()); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.Catalogue(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.Customers(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleWarmCache(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.WarmCache(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) cart(w http.ResponseWriter, r *http.Request) (*cart.Cart, bool) {
	c, err := a.service.Cart(mustIdentity(r), r.PathValue("cart"))
	if err != nil {
		a.writeServiceError(w, err)
		return nil, false
	}
	return c, true
}

func (a *API) handleCartCreate(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.NewCart(mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cart": c.View()})
}

func (a *API) handleCartShow(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

type cartUpdateRequest struct {
	CustomerID    *string `json:"customer_id"`
	PaymentMethod *string `json:"payment_method"`
}

func (a *API) handleCartUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	var req cartUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CustomerID != nil {
		if err := c.SetCustomer(*req.CustomerID); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	if req.PaymentMethod != nil {
		if err := c.SetPaymentMethod(*req.PaymentMethod); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

func (a *API) handleCartDiscard(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DiscardCart(mustIdentity(r), r.PathValue("cart")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLineAdd(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	line, err := c.AddLine()
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"line": line, "cart": c.View()})
}

type lineUpdateRequest struct {
	ProductID      *string `json:"product_id"`
	UnitPriceCents *int64  `json:"unit_price_cents"`
	Quantity       *int64  `json:"quantity"`
}

func (a *API) handleLineUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	var req lineUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lineID := r.PathValue("line")
	if req.ProductID != nil {
		product, err := a.product(r, *req.ProductID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		if err := c.SetLineProduct(lineID, product); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	if req.UnitPriceCents != nil {
		if err := c.SetUnitPrice(lineID, *req.UnitPriceCents); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	if req.Quantity != nil {
		if err := c.SetQuantity(lineID, *req.Quantity); err != nil {
			a.writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

func (a *API) product(r *http.Request, productID string) (domain.Product, error) {
	id := mustIdentity(r)
	p, err := store.Get[domain.Product](r.Context(), a.service.Local(), store.Products, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if p.StoreID != id.StoreID {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (a *API) handleLineRemove(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	if err := c.RemoveLine(r.PathValue("line")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

func (a *API) handleRowAdd(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	rowKey, err := c.AddRow(r.PathValue("line"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"row_key": rowKey, "cart": c.View()})
}

func (a *API) handleRowRemove(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	if err := c.RemoveRow(r.PathValue("line"), r.PathValue("row")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

func (a *API) handleRowConfirm(w http.ResponseWriter, r *http.Request) {
	c, ok := a.cart(w, r)
	if !ok {
		return
	}
	if err := c.ConfirmRow(r.PathValue("line"), r.PathValue("row")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": c.View()})
}

type scanRequest struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	LineID string `json:"line_id"`
	RowKey string `json:"row_key"`
}

func (r scanRequest) input(cartID string) scan.Input {
	source := scan.Source(strings.ToLower(strings.TrimSpace(r.Source)))
	if !source.Valid() {
		source = scan.SourceManual
	}
	return scan.Input{Source: source, Code: r.Code, CartID: cartID, LineID: r.LineID, RowKey: r.RowKey}
}

// scanResponse tags the result so clients can switch on "status".
func scanResponse(res domain.ScanResult) map[string]any {
	status := "accepted"
	switch res.(type) {
	case domain.ScanFailure:
		status = "rejected"
	case domain.ScanCollapsed:
		status = "collapsed"
	}
	return map[string]any{"status": status, "result": res}
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res := a.service.ProcessScan(r.Context(), mustIdentity(r), req.input(r.PathValue("cart")))
	writeJSON(w, http.StatusOK, scanResponse(res))
}

type keysRequest struct {
	Keys   string `json:"keys"`
	LineID string `json:"line_id"`
	RowKey string `json:"row_key"`
}

func (a *API) handleKeys(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := scan.Input{CartID: r.PathValue("cart"), LineID: req.LineID, RowKey: req.RowKey}
	results, err := a.service.KeyboardInput(r.Context(), mustIdentity(r), target, req.Keys)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		out = append(out, scanResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.service.CommitCart(r.Context(), mustIdentity(r), r.PathValue("cart"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if outcome.Mode == domain.CommitOffline {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.SyncAll(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleSyncPause(w http.ResponseWriter, r *http.Request) {
	if !a.engine.PauseSync(mustIdentity(r).StoreID) {
		writeError(w, http.StatusConflict, errors.New("no sync is running"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"pausing": true})
}

func (a *API) handleSyncResume(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.ResumeSync(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	count, err := a.service.QueueCount(r.Context(), id.StoreID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sync":         a.engine.Status(id.StoreID),
		"queue_count":  count,
		"connectivity": a.conn.Status(),
	})
}

// handleQueueClear needs the owner and, when configured, the manager PIN in
// X-Manager-PIN.
func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if a.pin.Enabled() {
		if !a.pinLimiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many PIN attempts"))
			return
		}
		if !a.pin.Validate(r.Header.Get("X-Manager-PIN")) {
			writeError(w, http.StatusForbidden, errBadPIN)
			return
		}
	}
	n, err := a.engine.ClearQueue(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (a *API) handlePendingList(w http.ResponseWriter, r *http.Request) {
	views, err := a.service.PendingSales(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": views, "count": len(views)})
}

func (a *API) handlePendingDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeletePending(r.Context(), mustIdentity(r), r.PathValue("ref")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePendingRetry(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RetryEntry(r.Context(), mustIdentity(r), r.PathValue("ref")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"client_ref": r.PathValue("ref"), "state": domain.SyncStateCreated})
}

func (a *API) handleSalesList(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.FilteredSalesForIdentity(r.Context(), mustIdentity(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSaleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.SalePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.UpdateSale(r.Context(), mustIdentity(r), r.PathValue("sale"), patch)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSaleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSale(r.Context(), mustIdentity(r), r.PathValue("sale")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(startedAt)))
	})
}

// statusFor maps domain failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, remote.ErrNotFound), errors.Is(err, service.ErrCartNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncengine.ErrSyncInProgress), errors.Is(err, syncengine.ErrNotPaused):
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindDuplicateDevice, domain.KindConflict:
		return http.StatusConflict
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindConfiguration:
		return http.StatusPreconditionFailed
	case domain.KindNetwork:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 && status != http.StatusServiceUnavailable {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// writeError hides 5xx details other than network unavailability.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	if kind := domain.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
