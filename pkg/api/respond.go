package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/herdctl/herd/pkg/errdefs"
)

// errorBody is the uniform failure envelope.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), errorBody{
		Error: errdefs.MessageOf(err),
		Kind:  string(errdefs.KindOf(err)),
	})
}

// decodeBody parses a JSON request body into dst. An empty body is
// allowed and leaves dst zeroed.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errdefs.Wrap(errdefs.KindFieldValidationFailed, err, "invalid request body")
	}
	return nil
}
