package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/alphabill-org/transferout/logger"
)

type errorResponse struct {
	Message string `json:"message"`
}

/*
writeResponse encodes "data" as CBOR when the client asked for it with the
Accept header, JSON otherwise.
*/
func writeResponse(w http.ResponseWriter, r *http.Request, log *slog.Logger, code int, data any) {
	if acceptsCBOR(r) {
		w.Header().Set(headerContentType, applicationCBOR)
		w.WriteHeader(code)
		if err := cbor.NewEncoder(w).Encode(data); err != nil {
			log.WarnContext(r.Context(), "failed to encode response data as CBOR", logger.Error(err))
		}
		return
	}

	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.WarnContext(r.Context(), "failed to encode response data as JSON", logger.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), logger.Error(err))
	}
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{Message: err.Error()}); err != nil {
		log.WarnContext(r.Context(), "failed to encode error response", logger.Error(err))
	}
}

func invalidParam(w http.ResponseWriter, r *http.Request, log *slog.Logger, name string, err error) {
	writeError(w, r, log, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", name, err))
}

func acceptsCBOR(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get(headerAccept), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(v)); err == nil && mt == applicationCBOR {
			return true
		}
	}
	return false
}
