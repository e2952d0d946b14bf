package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is a non-2xx response. Detail is the backend's error text when it sent one.
type StatusError struct {
	Status int
	Detail string
	Code   string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
}

// detailObject is the object form of a detail, e.g. {"message": "...", "error": "Authentication failed"}.
type detailObject struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// validationItem is one entry of a request validation failure.
type validationItem struct {
	Msg string `json:"msg"`
}

// parseError decodes an error body whose detail may be a string, an object or a list.
func parseError(status int, body []byte) *StatusError {
	e := &StatusError{Status: status}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		e.Detail = strings.TrimSpace(string(body))
		if len(e.Detail) > 200 || strings.HasPrefix(e.Detail, "<") {
			e.Detail = ""
		}
		return e
	}

	raw := bytes.TrimSpace(envelope.Detail)
	switch {
	case len(raw) > 0 && raw[0] == '"':
		_ = json.Unmarshal(raw, &e.Detail)
	case len(raw) > 0 && raw[0] == '{':
		var obj detailObject
		if err := json.Unmarshal(raw, &obj); err == nil {
			e.Detail = obj.Message
			e.Code = obj.Error
			if e.Detail == "" {
				e.Detail = obj.Error
			}
		}
	case len(raw) > 0 && raw[0] == '[':
		var items []validationItem
		if err := json.Unmarshal(raw, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			e.Detail = strings.Join(msgs, "; ")
		}
	}
	return e
}
