// Package handler serves the HTTP API of the settlement engine. Each
// handler declares the slice of the service layer it needs locally, so
// the package never depends on concrete service types.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code.
// If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusByError maps domain sentinel errors to HTTP statuses. Validation
// rejections are 400, authorization failures 403, missing entities 404,
// state-machine conflicts and contention 409.
var statusByError = []struct {
	sentinel error
	status   int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrNoPosition, http.StatusNotFound},

	{domain.ErrQuestionTooLong, http.StatusBadRequest},
	{domain.ErrDeadlineInPast, http.StatusBadRequest},
	{domain.ErrZeroBetAmount, http.StatusBadRequest},
	{domain.ErrBetAmountExceedsMax, http.StatusBadRequest},
	{domain.ErrInvalidOutcome, http.StatusBadRequest},
	{domain.ErrInvalidSide, http.StatusBadRequest},
	{domain.ErrInvalidRule, http.StatusBadRequest},

	{domain.ErrUnauthorizedOracle, http.StatusForbidden},
	{domain.ErrUnauthorizedCreator, http.StatusForbidden},

	{domain.ErrInvalidMarketStatus, http.StatusConflict},
	{domain.ErrMarketExpired, http.StatusConflict},
	{domain.ErrAlreadyResolved, http.StatusConflict},
	{domain.ErrCannotCancelResolved, http.StatusConflict},
	{domain.ErrAlreadySettled, http.StatusConflict},
	{domain.ErrLosingSide, http.StatusConflict},
	{domain.ErrOverflow, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
}

// writeDomainError maps a sentinel error to its HTTP status and writes
// it. Unrecognized errors are the caller's problem; they should log and
// send a generic 500 instead. ErrVaultInsolvency is deliberately absent
// from the mapping: it is fatal and must surface as a 500.
func writeDomainError(w http.ResponseWriter, err error) bool {
	for _, m := range statusByError {
		if errors.Is(err, m.sentinel) {
			writeError(w, m.status, m.sentinel.Error())
			return true
		}
	}
	return false
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// marketID extracts the {id} path parameter as a uint64.
func marketID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

// decodeBody parses the request body into v.
func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// logHandler attaches the handler name to the logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
