package server

import "net/http"

// ANSI colours for the DEV route and error log lines
const (
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"

	ResetColor = "\033[0m"
)

var methodColors = map[string]string{
	http.MethodGet:    Green,
	http.MethodPost:   Blue,
	http.MethodPut:    Cyan,
	http.MethodDelete: Yellow,
	http.MethodPatch:  Magenta,
}
