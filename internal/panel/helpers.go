package panel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rendis/applogic/pkg/schema"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// kindStatus maps error kinds to response codes. Unlisted kinds are server
// errors and get logged.
var kindStatus = map[string]int{
	schema.ErrKindNotFound:         http.StatusNotFound,
	schema.ErrKindMalformedAst:     http.StatusBadRequest,
	schema.ErrKindValidationFailed: http.StatusBadRequest,
	schema.ErrKindTypeMismatch:     http.StatusBadRequest,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *PanelServer) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	kind := schema.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		s.deps.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// queryInt reads a non-negative integer query parameter, returning def when
// it is absent or unusable.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// queryBool reads an optional boolean query parameter; nil means unset.
func queryBool(r *http.Request, key string) *bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return nil
	}
	return &b
}
