// Package httputil provides shared HTTP response/request helpers for handlers.
//
// Handlers use these instead of raw http.ResponseWriter calls so every
// endpoint returns the same JSON envelope and never leaks internal errors.
package httputil
