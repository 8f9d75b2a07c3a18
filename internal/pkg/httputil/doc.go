// Package httputil holds the JSON response helpers shared by the API and
// tracking handlers. Error bodies always use ErrorResponse, and 500s never
// carry the underlying error.
package httputil
