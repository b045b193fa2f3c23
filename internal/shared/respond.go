package shared

import (
	"encoding/json"
	"net/http"
)

const maxBodyBytes = 1 << 20

// WriteJSON serializes data as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteJSONError writes a uniform error envelope.
func WriteJSONError(w http.ResponseWriter, status int, message string) error {
	type envelope struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	return WriteJSON(w, status, envelope{Error: message, Status: status})
}

// ReadJSON decodes the request body into data, rejecting unknown fields.
func ReadJSON(w http.ResponseWriter, r *http.Request, data any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(data)
}
