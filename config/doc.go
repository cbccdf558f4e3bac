// Package config loads the weave gateway configuration.
//
// A config file is JSON or YAML, picked by its extension (.json, .yaml,
// .yml). Fields left out of the file keep the values from Default, and
// unknown fields are rejected. Durations are written as Go duration strings
// ("250ms", "5s"); bare numbers are nanoseconds.
//
//	gateway:
//	  name: edge-1
//	  rx_buffer_size: 260
//	  workers: 2
//	nats:
//	  enabled: true
//	  url: nats://broker:4222
//	websocket:
//	  enabled: true
//	  port: 8081
//	metrics:
//	  port: 9090
//
// After parsing, Load applies environment overrides and validates:
//
//	WEAVE_GATEWAY_NAME     gateway.name
//	WEAVE_NATS_ENABLED     nats.enabled
//	WEAVE_NATS_URL         nats.url
//	WEAVE_WS_ENABLED       websocket.enabled
//	WEAVE_WS_PORT          websocket.port
//	WEAVE_METRICS_ENABLED  metrics.enabled
//	WEAVE_METRICS_PORT     metrics.port
//
// Files are read with size, path and nesting checks; see readConfigFile.
// Validation errors wrap errors.ErrInvalidConfig and are classified invalid.
package config
