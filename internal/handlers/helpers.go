package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// maxBodyBytes bounds request bodies; a run request carries the whole
// project.
const maxBodyBytes = 8 << 20

var errBadQuery = errors.New("bad query parameter")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// positiveQuery reads a positive integer query parameter, capped at max.
// A missing parameter yields def.
func positiveQuery(r *http.Request, name string, def, max int) (int, error) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return 0, errBadQuery
	}
	return min(n, max), nil
}
