/*
Package server provides the HTTP server and its middleware.

# Middleware Chain Order

Every route passes through, in order:
 1. RequestIDMiddleware (reuses a well-formed X-Request-ID or generates one)
 2. LoggingMiddleware (start and completion logs, AddLogField/AddError)
 3. Recoverer (catches panics)
 4. OTel instrumentation (otelhttp)

TimeoutMiddleware is applied only to routes registered through
Server.Bounded. Chat streams are registered on Server.Router directly so a
long run is not cut off by the request timeout, and the http.Server has no
write timeout for the same reason.

# Example Usage

	s := server.New(server.Options{Port: 8080, Logger: logger, RequestTimeout: 30 * time.Second})
	s.Router.Post("/chat/streaming", chatHandler.HandleStreaming)
	s.Bounded(func(r chi.Router) {
		r.Get("/chat/agents", chatHandler.HandleAgents)
	})
	err := s.Start(ctx)
*/
package server
