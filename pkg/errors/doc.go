// Package errors defines the single error variant used across the control
// plane and its mapping to HTTP status codes.
//
// Every fallible operation returns an *Error carrying a Kind (not_found,
// bad_request, unauthorized, forbidden, conflict, timeout, internal,
// bad_gateway), a human message, an optional stable machine code, and an
// optional wrapped cause. Interior code never touches HTTP status codes;
// the API boundary calls HTTPStatus exactly once per request.
//
// Internal causes are preserved for logging via Error() and Unwrap() but
// MessageOf masks unclassified errors so storage or filesystem details
// never leak into responses.
package errors
