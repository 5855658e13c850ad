// Package gateway wires the chatbot together and runs it.
//
// # Overview
//
// A Gateway owns one platform adapter (Discord or Matrix), the session
// registry and lifecycle manager, the idle evictor, the SQLite archive and
// an optional HTTP status server. Run starts them under one errgroup and
// tears everything down when the context ends or any component fails.
//
// # HTTP API
//
// When server.http_addr is set:
//
//	GET /health                              liveness, always 200
//	GET /health/ready                        200 once the platform is connected
//	GET /api/sessions                        live sessions in the registry
//	GET /api/archive/sessions?limit=N        archived sessions, newest first
//	GET /api/archive/sessions/{id}/turns     archived turns of one session
//	GET /api/events?thread=ID                server-sent lifecycle events
//
// With server.jwt_secret set, the /api/ routes require a bearer token minted
// by "chatbot token". The health routes stay open for health checks.
//
// # Shutdown
//
// On shutdown every live session is closed, in-flight turns are given
// sessions.shutdown_timeout to finish, and the archive is closed.
package gateway
