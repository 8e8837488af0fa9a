// ABOUTME: Annotated starter configuration written by `wai-gateway init`.
// ABOUTME: Kept loadable so the init output always passes validation.

package config

// Example is a complete YAML configuration with every section filled in.
const Example = `# wai-gateway configuration

server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
  allowed_origins:
    - "http://localhost:3000"

tailscale:
  enabled: false
  hostname: "wai"
  auth_key: "${TS_AUTHKEY}"
  ephemeral: false
  https: false
  funnel: false

model:
  api_key: "${ANTHROPIC_API_KEY}"
  name: "claude-sonnet-4-5"
  requests_per_minute: 50
  timeout: "2m"

records:
  root: "./outputs"
  cache_ttl: "5m"
  cache_size: 256
  watch: true

sessions:
  backend: "memory" # memory, sqlite or redis
  path: "./wai-sessions.db"
  redis_url: "redis://localhost:6379/0"
  redis_prefix: "wai:"
  timeout: "1h"
  max_history: 100
  cleanup_interval: "5m"
  distributed_lock: false

conversation:
  max_iterations: 10
  history_window: 10
  max_tokens: 4096
  tool_workers: 8
  tool_timeout: "30s"
  lock_ttl: "5m"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"

mcp:
  enabled: true
  path: "/mcp"
`
