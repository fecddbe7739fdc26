package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
	"lendpool/native/lendbook"
	"lendpool/native/lending"
	"lendpool/native/oracle"
)

const requestBodyLimit = 1 << 20 // 1 MiB

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	reader := http.MaxBytesReader(w, r.Body, requestBodyLimit)
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		fallback := fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message))
		payload = []byte(fallback)
	}
	_, _ = w.Write(payload)
}

// writeNodeError maps node and engine failures onto REST status codes.
// Missing entities read as 404, paused modules as 503, and rejected
// inputs surface the module's own message as a 400.
func writeNodeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, lending.ErrTokenUnknown),
		errors.Is(err, lendbook.ErrListingNotFound),
		errors.Is(err, oracle.ErrUnknownSymbol):
		status = http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	default:
		message := err.Error()
		if strings.HasPrefix(message, "lending engine:") ||
			strings.HasPrefix(message, "lendbook:") ||
			strings.HasPrefix(message, "oracle:") ||
			strings.HasPrefix(message, "state:") ||
			strings.HasPrefix(message, "node:") {
			status = http.StatusBadRequest
		}
	}
	writeJSONError(w, status, err)
}

func parseAddress(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, errors.New("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func formatAddress(raw []byte) string {
	return crypto.MustNewAddress(crypto.LendPrefix, raw).String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

type collateralPayload struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func parseCollaterals(raw []collateralPayload) ([]lending.CollateralSpec, error) {
	specs := make([]lending.CollateralSpec, 0, len(raw))
	for _, entry := range raw {
		amount, err := parseAmount(entry.Amount)
		if err != nil {
			return nil, err
		}
		specs = append(specs, lending.CollateralSpec{
			Symbol: strings.TrimSpace(entry.Symbol),
			Amount: amount,
		})
	}
	return specs, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
