package exporters

import (
	"fmt"
	"strings"

	"misp-controlplane/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
)

// New picks the OTLP transport from OTEL.PROTOCOL (grpc or http).
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	switch strings.ToLower(cfg.Otel.Protocol) {
	case "", "grpc":
		return ProvideGrpc(cfg)
	case "http", "http/protobuf":
		return ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}
