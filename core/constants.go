package core

import "time"

// Environment variables read by Config.LoadFromEnv
const (
	EnvRegistryURL         = "AGENTRELAY_REGISTRY_URL"      // Base URL of the HTTP registry
	EnvRegistryProvider    = "AGENTRELAY_REGISTRY_PROVIDER" // http, redis or memory
	EnvTransport           = "AGENTRELAY_TRANSPORT"         // redis, websocket or memory
	EnvRedisURL            = "AGENTRELAY_REDIS_URL"         // Redis URL for registry and transport
	EnvRedisURLFallback    = "REDIS_URL"                    // Conventional Redis URL variable
	EnvHubURL              = "AGENTRELAY_HUB_URL"           // WebSocket hub endpoint
	EnvCodec               = "AGENTRELAY_CODEC"             // json or cbor
	EnvNamespace           = "AGENTRELAY_NAMESPACE"         // Key and channel prefix
	EnvAgentName           = "AGENTRELAY_AGENT_NAME"
	EnvLogLevel            = "AGENTRELAY_LOG_LEVEL"
	EnvLogFormat           = "AGENTRELAY_LOG_FORMAT"
	EnvDevMode             = "AGENTRELAY_DEV_MODE"
	EnvTelemetryEnabled    = "AGENTRELAY_TELEMETRY_ENABLED"
	EnvOTLPEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPMetricsEndpoint = "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"
)

// Registry providers
const (
	RegistryProviderHTTP   = "http"
	RegistryProviderRedis  = "redis"
	RegistryProviderMemory = "memory"
)

// Transport providers
const (
	TransportRedis     = "redis"
	TransportWebSocket = "websocket"
	TransportMemory    = "memory"
)

// Defaults
const (
	DefaultRegistryURL = "http://localhost:4567"
	DefaultRedisURL    = "redis://localhost:6379"
	DefaultHubURL      = "ws://localhost:4568/ws"
	DefaultNamespace   = "agentrelay"

	// DefaultRegistryTimeout bounds a single registry round trip made by the
	// HTTP binding. Callers may still pass a shorter deadline in ctx.
	DefaultRegistryTimeout = 10 * time.Second

	// DefaultQueueSize is the per-agent buffer of the in-memory and WebSocket
	// transports.
	DefaultQueueSize = 256
)

// Counters recorded through Telemetry.RecordMetric
const (
	MetricEnvelopesDispatched = "agentrelay.envelopes.dispatched" // labels: type
	MetricEnvelopesDropped    = "agentrelay.envelopes.dropped"    // labels: type, reason
	MetricRequestsRejected    = "agentrelay.requests.rejected"    // failed request contract
	MetricPublishFailures     = "agentrelay.publish.failures"     // labels: type
	MetricHandlerFailures     = "agentrelay.handler.failures"     // labels: type
)

// Process exit codes
const (
	// ExitCodeConfiguration is returned when an agent lacks its mandatory
	// self-description (sysexits EX_CONFIG).
	ExitCodeConfiguration = 78

	ExitCodeOK = 0
)

// unregisteredQueuePrefix names the local queue of an agent running without a
// registry id.
const unregisteredQueuePrefix = "unregistered-"
