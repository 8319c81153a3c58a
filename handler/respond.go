// Package handler implements the HTTP surface over the entity store,
// sync orchestrator, and classifier.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ledgerflow/ledgercore/errs"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := errs.KindOf(err)
	errKind := string(kind)
	if errKind == "" {
		errKind = "internal"
	}
	switch kind {
	case errs.KindValidation, errs.KindIntegrity:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindAuthMissing:
		status = http.StatusUnauthorized
	case errs.KindAuthExpired, errs.KindAuthRevoked:
		status = http.StatusUnauthorized
	case errs.KindPermissionDenied:
		status = http.StatusForbidden
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	case errs.KindNetworkTransient:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error":   errKind,
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
