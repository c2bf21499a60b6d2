package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GetRequiredQueryParameters attempts to read the specified query parameters
// from the request and returns a map of the key value pairs. If any of the required
// query parameters are missing or blank, it'll write a 400 status code as well as
// the reasoning for the error into the ResponseWriter, and also set return false.
func GetRequiredQueryParameters(w http.ResponseWriter, r *http.Request, paramKeys ...string) (map[string]string, zerolog.Logger, bool) {
	params := make(map[string]string, len(paramKeys))
	logger := log.With()
	for _, key := range paramKeys {
		value := r.URL.Query().Get(key)
		if value == "" {
			http.Error(w, fmt.Sprintf("expected %s query parameter", key), http.StatusBadRequest)
			return nil, zerolog.Nop(), false
		}
		params[key] = value
		logger = logger.Str(key, value)
	}
	return params, logger.Logger(), true
}

// QueryUint reads an unsigned integer query parameter, or def when absent.
func QueryUint(r *http.Request, key string, def uint64) (uint64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s query parameter: %w", key, err)
	}
	return v, nil
}

// QuerySeconds reads a duration expressed in possibly fractional seconds,
// or def when absent.
func QuerySeconds(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def, nil
	}
	s, err := strconv.ParseFloat(value, 64)
	if err != nil || s <= 0 {
		return 0, fmt.Errorf("invalid %s query parameter: %q", key, value)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// QueryString reads a query parameter, or def when absent.
func QueryString(r *http.Request, key, def string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return def
}
