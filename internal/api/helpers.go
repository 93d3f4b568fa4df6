package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"marketplace/internal/models"
	"marketplace/internal/storage"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUserRejected),
		errors.Is(err, models.ErrSelfPurchase),
		errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrListingNotFound),
		errors.Is(err, storage.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSessionChanged),
		errors.Is(err, models.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, models.ErrReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrWalletUnavailable),
		errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// parseListingID parses the {id} path segment
func parseListingID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid listing id %q", models.ErrInvalidInput, raw)
	}
	return id, nil
}

// scopeFromQuery builds a catalog scope. Owned and listed scopes refer to the
// connected account.
func (s *Server) scopeFromQuery(raw string) (models.Scope, error) {
	kind, err := models.ParseScopeKind(raw)
	if err != nil {
		return models.Scope{}, err
	}
	if kind == models.ScopeAll {
		return models.AllListings(), nil
	}

	account, ok := s.deps.Sessions.Current().AccountID()
	if !ok {
		return models.Scope{}, fmt.Errorf("%w: scope %s needs a connected wallet", models.ErrNotConnected, kind)
	}
	return models.Scope{Kind: kind, Account: account}, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
