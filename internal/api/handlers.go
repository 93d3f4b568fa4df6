package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/catalog"
	"marketplace/internal/listing"
	"marketplace/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// maxAssetBytes bounds multipart uploads of listing assets
const maxAssetBytes = 32 << 20

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":     "Marketplace",
		"version":     "1.0.0",
		"description": "Orchestration layer for a peer-to-peer digital asset marketplace",
		"endpoints": map[string]string{
			"GET /":                          "This page - Service information",
			"GET /health":                    "Health check endpoint",
			"GET /metrics":                   "Prometheus metrics for monitoring",
			"GET /session":                   "Current wallet session",
			"POST /session/connect":          "Connect the wallet",
			"POST /session/disconnect":       "Disconnect the wallet",
			"GET /catalog":                   "Cached catalog (supports ?scope=all|owned|listed, ?q=, ?sort=price_asc|price_desc|recent)",
			"POST /catalog/refresh":          "Refresh the catalog (supports ?scope=)",
			"POST /listings":                 "List an asset (multipart: file, name, description, price)",
			"GET /listings/{id}/eligibility": "Action the current session may take on a listing",
			"POST /listings/{id}/buy":        "Buy a listing (JSON: price)",
			"POST /listings/{id}/resell":     "Resell an owned listing (JSON: price)",
			"GET /workflows":                 "Workflows of the current account (supports ?limit=, ?offset=)",
			"GET /workflows/{id}":            "Journaled state of a workflow",
			"POST /workflows/{id}/retry":     "Retry a failed workflow",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "marketplace",
		"session":   s.deps.Sessions.Current().State,
	}

	if err := s.deps.Journal.Ping(ctx); err != nil {
		slog.Error("Journal health check failed", "error", err)
		health["status"] = "unhealthy"
		health["journal"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if s.deps.Probe != nil {
		if latest, err := s.deps.Probe.LatestLedger(ctx); err != nil {
			health["network"] = err.Error()
		} else {
			health["latest_ledger"] = latest
		}
	}

	s.sendJSON(w, status, health)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// GET /session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.deps.Sessions.Current())
}

// POST /session/connect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Connect(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}

// POST /session/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Disconnect(r.Context()); err != nil {
		// Local state is cleared even when revocation fails
		slog.Warn("Wallet revocation failed", "error", err)
	}
	s.sendJSON(w, http.StatusOK, s.deps.Sessions.Current())
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// handleGetCatalog serves the cached snapshot, refreshing first when the
// requested scope is not the cached one
// GET /catalog?scope=owned&q=sunset&sort=price_asc
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	scope, err := s.scopeFromQuery(query.Get("scope"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	snapshot := s.deps.Catalog.Snapshot()
	if snapshot.RefreshedAt.IsZero() || snapshot.Scope != scope {
		if _, err := s.deps.Catalog.Refresh(ctx, scope); err != nil {
			slog.Error("Failed to refresh catalog", "scope", scope.String(), "error", err)
			s.sendFailure(w, err)
			return
		}
	}

	var criterion catalog.Criterion
	if sortParam := query.Get("sort"); sortParam != "" {
		criterion, err = catalog.ParseCriterion(sortParam)
		if err != nil {
			s.sendFailure(w, err)
			return
		}
	}

	snapshot = s.deps.Catalog.Query(query.Get("q"), criterion)
	entries := snapshot.Entries

	s.sendJSON(w, http.StatusOK, models.CatalogResponse{
		Scope:       snapshot.Scope,
		Entries:     entries,
		Total:       len(entries),
		RefreshedAt: snapshot.RefreshedAt,
		Partial:     snapshot.Partial,
	})
}

// POST /catalog/refresh?scope=all
func (s *Server) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope := s.deps.Catalog.Scope()
	if raw := r.URL.Query().Get("scope"); raw != "" {
		var err error
		if scope, err = s.scopeFromQuery(raw); err != nil {
			s.sendFailure(w, err)
			return
		}
	}

	if _, err := s.deps.Catalog.Refresh(ctx, scope); err != nil {
		slog.Error("Failed to refresh catalog", "scope", scope.String(), "error", err)
		s.sendFailure(w, err)
		return
	}

	snapshot := s.deps.Catalog.Snapshot()
	s.sendJSON(w, http.StatusOK, models.CatalogResponse{
		Scope:       snapshot.Scope,
		Entries:     snapshot.Entries,
		Total:       len(snapshot.Entries),
		RefreshedAt: snapshot.RefreshedAt,
		Partial:     snapshot.Partial,
	})
}

// =============================================================================
// LISTING ENDPOINTS
// =============================================================================

// handleCreateListing runs the List workflow
// POST /listings (multipart: file, name, description, price)
func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAssetBytes+1<<20)
	if err := r.ParseMultipartForm(maxAssetBytes); err != nil {
		s.sendError(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	asset, contentType, err := readAsset(r)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	if asset == nil {
		s.sendError(w, "file is required", http.StatusBadRequest)
		return
	}

	price, err := models.ParsePrice(r.FormValue("price"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	res, err := s.deps.Listings.List(r.Context(), listing.ListRequest{
		Asset:       asset,
		ContentType: contentType,
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       price,
	})
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, listingResponse(res))
}

// GET /listings/{id}/eligibility
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := parseListingID(r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	target, err := s.deps.Listings.Listing(r.Context(), id)
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, models.EligibilityResponse{
		ListingID:   id,
		Eligibility: string(listing.CheckEligibility(s.deps.Sessions.Current(), target)),
	})
}

// handleBuy runs the Buy workflow. Without a price in the body the asking
// price of the listing is paid.
// POST /listings/{id}/buy {"price": "1.5"}
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseListingID(r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	price, err := decodePrice(r)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	if price.IsZero() {
		target, err := s.deps.Listings.Listing(ctx, id)
		if err != nil {
			s.sendFailure(w, err)
			return
		}
		price = target.Price
	}

	res, err := s.deps.Listings.Buy(ctx, id, price)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, listingResponse(res))
}

// POST /listings/{id}/resell {"price": "2"}
func (s *Server) handleResell(w http.ResponseWriter, r *http.Request) {
	id, err := parseListingID(r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	price, err := decodePrice(r)
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	res, err := s.deps.Listings.Resell(r.Context(), id, price)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, listingResponse(res))
}

// =============================================================================
// WORKFLOW ENDPOINTS
// =============================================================================

// handleListWorkflows lists workflows started by the connected account
// GET /workflows?limit=50&offset=0
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	account, ok := s.deps.Sessions.Current().AccountID()
	if !ok {
		s.sendFailure(w, models.ErrNotConnected)
		return
	}

	query := r.URL.Query()

	// Pagination
	limit := 50 // default
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	records, err := s.deps.Journal.ListWorkflows(r.Context(), account, limit, offset)
	if err != nil {
		slog.Error("Failed to list workflows", "account", models.ShortenAddress(account), "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, models.WorkflowListResponse{
		Workflows: records,
		Total:     len(records),
		Limit:     limit,
		Offset:    offset,
	})
}

// GET /workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Listings.Workflow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, record)
}

// handleRetryWorkflow starts a new instance of a failed workflow. A List that
// failed before its image was stored needs the file again (multipart: file).
// POST /workflows/{id}/retry
func (s *Server) handleRetryWorkflow(w http.ResponseWriter, r *http.Request) {
	var asset []byte
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAssetBytes+1<<20)
		if err := r.ParseMultipartForm(maxAssetBytes); err != nil {
			s.sendError(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		var err error
		if asset, _, err = readAsset(r); err != nil {
			s.sendFailure(w, err)
			return
		}
	}

	res, err := s.deps.Listings.Retry(r.Context(), r.PathValue("id"), asset)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, listingResponse(res))
}

// sendJSON writes v as a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

// sendFailure sends a JSON error response classified from err
func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	resp := models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: err.Error(),
		Code:    code,
		Kind:    models.ErrorKind(err),
	}

	var wfErr *models.WorkflowError
	if errors.As(err, &wfErr) {
		resp.Stage = wfErr.Stage
		resp.WorkflowID = wfErr.WorkflowID
		resp.Retryable = wfErr.Retryable()
	}

	s.sendJSON(w, code, resp)
}

func readAsset(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: file: %v", models.ErrInvalidInput, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func listingResponse(res listing.Result) models.ListingResponse {
	return models.ListingResponse{
		WorkflowID: res.WorkflowID,
		Listing:    res.Listing,
		Superseded: res.Superseded,
	}
}

// decodePrice reads {"price": "..."} from the body. An empty body yields zero.
func decodePrice(r *http.Request) (decimal.Decimal, error) {
	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return decimal.Zero, fmt.Errorf("%w: invalid JSON body: %v", models.ErrInvalidInput, err)
	}
	if body.Price == "" {
		return decimal.Zero, nil
	}
	return models.ParsePrice(body.Price)
}
