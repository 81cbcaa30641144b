package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies. The largest accepted payload is a
// 500k-character text drop, which JSON escaping can roughly triple.
const maxBodyBytes = 8 << 20

// errorBody is the envelope every non-2xx response carries.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}, logger *zap.Logger) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("response encode failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, detail string, logger *zap.Logger) {
	writeJSON(w, code, errorBody{Detail: detail}, logger)
}

// decodeBody reads and unmarshals a JSON request body.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("request body required")
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
