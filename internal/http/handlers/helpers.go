package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxBodyBytes = 1 << 20

// errValidation 请求体字段不满足约束，返回 422
type errValidation struct{ msg string }

func (e *errValidation) Error() string { return e.msg }

func validationError(format string, args ...any) error {
	return &errValidation{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON 解析请求体，只接受单个 JSON 对象
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("corpo da requisição vazio")
		}
		return fmt.Errorf("JSON inválido: %w", err)
	}
	if dec.More() {
		return errors.New("corpo da requisição deve conter um único objeto JSON")
	}
	return nil
}

// bodyStatus 解析或校验失败对应的状态码
func bodyStatus(err error) int {
	var v *errValidation
	if errors.As(err, &v) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

// queryInt 读取整数查询参数，缺省或非法时返回 def
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError("parâmetro %s inválido", key)
	}
	return v, nil
}
