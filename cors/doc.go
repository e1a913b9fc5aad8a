// Package cors decides which cross-origin callers may receive credentialed
// responses from the login portal.
//
// Allowed origins are not configured up front. The portal records the origin
// of every redirect URI it successfully sends a browser to (TrustStore.Observe),
// and later cross-origin requests from exactly those origins are answered with
// mirrored Access-Control-Allow-Origin and Access-Control-Allow-Credentials
// headers. Only http and https URIs contribute origins; anything else is
// logged and dropped.
//
// The wildcard origin is never emitted: a Decision carries the exact origin
// taken from the trust store, and the trust store can only contain origins
// parsed from absolute URIs.
package cors
