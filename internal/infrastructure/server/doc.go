// Package server wires the camera coordinator together.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger, metrics and tracing
//  3. Build the registry, settings store and agent hub
//  4. Setup HTTP routes and middleware
//  5. Start the broadcast loop and HTTP server
//  6. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
