// Package auth guards the gateway's HTTP API with bearer tokens.
//
// Tokens are HS256 JWTs signed with server.jwt_secret. The subject names the
// operator the token was issued to and is attached to the request context so
// handlers can log who asked. Mint tokens with:
//
//	chatbot token --name alice --ttl 720h
//
// Browsers cannot set headers on an EventSource, so the middleware also
// accepts the token in an access_token query parameter.
package auth
