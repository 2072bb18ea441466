// Package app composes the portfolio backend into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── market/         # Price quotes, rate quotes, cache status
//	│   ├── asset/          # Portfolio positions
//	│   └── auth/           # Users and sessions
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store contracts and sentinel errors
//	│   ├── memory/         # In-memory implementation
//	│   ├── postgres/       # PostgreSQL implementation
//	│   └── redisstore/     # Redis session store
//	├── services/           # Business logic
//	│   ├── market/         # Price/rate fetch orchestrator and providers
//	│   ├── cache/          # Validity evaluation, statistics, cleanup
//	│   ├── assets/         # Portfolio CRUD
//	│   ├── auth/           # Credentials and sessions
//	│   └── maintenance/    # Scheduled cleanup runner
//	├── httpapi/            # REST handlers and routing
//	├── system/             # Lifecycle management for long-running services
//	└── metrics/            # Prometheus collectors
//
// Construction happens in two layers: New in this package wires stores,
// provider clients, and services into an Application; internal/app/runtime
// additionally loads configuration, opens the database and Redis
// connections, and owns the HTTP server.
package app
