package server

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
)

// list is the paging envelope of every listing.
type list struct {
	PageSize   int `json:"page_size"`
	PageNum    int `json:"page_num"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

func newList(page dto.Page, count, total int) list {
	return list{PageSize: page.Size, PageNum: page.Num, Count: count, TotalCount: total}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps err to its status code.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	writeDetail(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case stdErrors.Is(err, dto.ErrNotFound):
		return http.StatusNotFound
	case stdErrors.Is(err, dto.ErrConflict),
		stdErrors.Is(err, dto.ErrInvalidTransition),
		stdErrors.Is(err, dto.ErrStaleRecord):
		return http.StatusConflict
	case stdErrors.Is(err, dto.ErrInvalidConfigName),
		stdErrors.Is(err, dto.ErrInvalidConfigValue),
		stdErrors.Is(err, dto.ErrInvalidArgument):
		return http.StatusBadRequest
	case stdErrors.Is(err, dto.ErrExternalAgent):
		return http.StatusBadGateway
	case stdErrors.Is(err, dto.ErrNotImplemented):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// page reads page_size and page_num, defaulting to the first page of ten. Sizes
// above dto.MaxPageSize are rejected.
func page(q url.Values) (dto.Page, error) {
	p := dto.DefaultPage
	var err error
	if p.Size, err = intParam(q, "page_size", p.Size); err != nil {
		return p, err
	}
	if p.Num, err = intParam(q, "page_num", p.Num); err != nil {
		return p, err
	}
	if p.Size < 1 || p.Num < 1 {
		return p, errors.Wrap(dto.ErrInvalidArgument, "page_size and page_num must be positive")
	}
	if p.Size > dto.MaxPageSize {
		return p, errors.Wrapf(dto.ErrInvalidArgument, "page_size must not exceed %d", dto.MaxPageSize)
	}
	return p, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(dto.ErrInvalidArgument, "%s: %q is not a number", name, v)
	}
	return n, nil
}

func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(dto.ErrInvalidArgument, "%s: %q is not a boolean", name, v)
	}
	return b, nil
}

func versionParam(q url.Values) (uint64, error) {
	v := q.Get("version")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(dto.ErrInvalidArgument, "version: %q is not a number", v)
	}
	return n, nil
}

// optional returns a pointer to the parameter value, or nil when absent.
func optional(q url.Values, name string) *string {
	if !q.Has(name) {
		return nil
	}
	v := q.Get(name)
	return &v
}

// wildcard returns the parameter value, or "*" when absent or empty.
func wildcard(q url.Values, name string) string {
	if v := q.Get(name); v != "" {
		return v
	}
	return dto.Wildcard
}
