// Package flightdeck discovers JVMs and automates flight recordings on them.
//
// # Overview
//
// Flightdeck keeps a discovery tree of realms, each holding the JVM targets
// found by one source, and drives JDK Flight Recorder recordings against
// those targets. Rules select targets with match expressions and start,
// archive and retain recordings on every target they match. Stored
// credentials are applied to targets the same way.
//
// The service consists of:
//   - Discovery tree: realms fed by JDP multicast, the Docker daemon,
//     custom targets and remote discovery plugins
//   - Match expressions: a small boolean language over target fields
//   - Rule engine: per-target recording activations with periodic archival
//   - Credential resolver: encrypted credentials matched to targets
//   - Recording orchestrator: start, stop, snapshot and archive
//   - REST API, websocket notifications and a CLI
//
// # Architecture
//
//	┌──────────────┐  ┌──────────────┐  ┌────────────────────┐
//	│ JDP listener │  │ Docker source│  │ discovery plugins  │
//	└──────┬───────┘  └──────┬───────┘  │ (flightdeck agent) │
//	       │                 │          └─────────┬──────────┘
//	┌──────▼─────────────────▼────────────────────▼──────┐
//	│                  Discovery tree                    │
//	└──────┬──────────────────┬──────────────────────────┘
//	       │ events           │ events
//	┌──────▼───────┐   ┌──────▼───────┐
//	│ Rule engine  │   │ Credentials  │
//	└──────┬───────┘   └──────┬───────┘
//	       │                  │
//	┌──────▼──────────────────▼───────┐     ┌──────────────────┐
//	│     Recording orchestrator      ├────►│ JVM agents (HTTP)│
//	└─────────────────────────────────┘     └──────────────────┘
//
// # Usage
//
// Start the server:
//
//	flightdeck server --config configs/config.yaml
//
// Mirror a Docker host into a realm from that host:
//
//	flightdeck agent --server-url http://flightdeck:8181 --realm docker-host-01
//
// Manage a running server:
//
//	flightdeck rules create -f rules.yaml
//	flightdeck discovery match 'target.labels.env == "prod"'
//	flightdeck recordings list service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (configs/config.yaml)
//   - Environment variables (FD_ prefix)
//   - .env file
//
// Example configuration:
//
//	server:
//	  port: 8181
//	storage:
//	  backend: couchdb
//	couchdb:
//	  url: http://localhost:5984
//	  database: flightdeck
//	discovery:
//	  jdp_enabled: true
//	  docker_enabled: true
//	credentials:
//	  encryption_key: AGE-SECRET-KEY-1...
//
// # API Endpoints
//
// Targets and recordings:
//   - GET    /api/v1/targets                                   - List targets
//   - POST   /api/v2/targets                                   - Add a custom target
//   - DELETE /api/v2/targets/:targetId                         - Remove a custom target
//   - GET    /api/v1/targets/:targetId/recordings              - List recordings
//   - POST   /api/v1/targets/:targetId/recordings              - Start a recording
//   - PATCH  /api/v1/targets/:targetId/recordings/:name        - STOP or SAVE
//   - DELETE /api/v1/targets/:targetId/recordings/:name        - Delete a recording
//   - POST   /api/v1/targets/:targetId/snapshot                - Snapshot
//   - GET    /api/v1/archives                                  - List archives
//
// Rules and credentials:
//   - GET|POST          /api/v2/rules
//   - GET|PATCH|DELETE  /api/v2/rules/:name
//   - GET|POST          /api/v2.2/credentials
//   - GET|DELETE        /api/v2.2/credentials/:id
//
// Discovery:
//   - GET  /api/v2.1/discovery                 - Discovery tree
//   - POST /api/v2.1/discovery/query           - Filter tree nodes
//   - POST /api/v2.2/discovery                 - Register or refresh a plugin
//   - POST /api/v2.2/discovery/:id             - Publish a plugin's subtree
//   - DELETE /api/v2.2/discovery/:id           - Deregister a plugin
//   - POST /api/beta/matchExpressions          - Test a match expression
//
// Notifications:
//   - GET /api/v1/notifications                - Websocket event stream
//
// # Development
//
// Start a local CouchDB:
//
//	go run ./cmd/flightdeck-dev up
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o flightdeck ./cmd/flightdeck
package flightdeck
