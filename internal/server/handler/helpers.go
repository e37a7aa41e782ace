// Package handler contains the HTTP handlers for the API server.
package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
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

// writeOpError maps a classified operation error to an HTTP response carrying
// the machine-readable code alongside the human-readable message.
func writeOpError(w http.ResponseWriter, err error) {
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		status := http.StatusUnprocessableEntity
		if opErr.Code == domain.CodeValidation {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{
			"error": opErr.UserMessage(),
			"code":  string(opErr.Code),
		})
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeBody parses the request body into dst, limited to 1 MiB.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseAddress parses a hex address, rejecting malformed input rather than
// silently truncating it.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a base-10 big integer amount in token base units.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("amount is required")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, errors.New("amount must be a positive integer")
	}
	return n, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
