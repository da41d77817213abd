package telemetry

// Config configures OpenTelemetry tracing of callback traffic.
type Config struct {
	Enabled bool

	// ServiceName and ServiceVersion populate the trace resource.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address (host:port).
	Endpoint string

	// Insecure talks to the collector without TLS.
	Insecure bool

	// SampleRate is the fraction of root traces kept (0.0 to 1.0). Spans
	// started under a sampled parent are always kept.
	SampleRate float64
}

// DefaultConfig returns tracing disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "nfscb",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
