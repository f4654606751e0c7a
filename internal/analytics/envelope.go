package analytics

import (
	"encoding/json"
	"net/http"
)

// Envelope wraps every analytics response. Data is always present: the
// result on success, null or an empty list on failure.
type Envelope struct {
	Error string `json:"error,omitempty"`
	Data  any    `json:"data"`
}

// placeholder is the data value sent alongside an error.
type placeholder int

const (
	nullData placeholder = iota
	emptyList
)

func (p placeholder) value() any {
	if p == emptyList {
		return []StatusCount{}
	}
	return nil
}

// requestError is a caller mistake, reported with 400 instead of 500.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
