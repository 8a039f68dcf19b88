package gateway

// SubgraphConfig names one subgraph operator: its identity, reachable host,
// and the SDL files composed into it at startup. When SchemaFiles is empty,
// the gateway fetches the subgraph's SDL over the wire via `{ _service { sdl } }`
// instead, retried per IntrospectRetry.
type SubgraphConfig struct {
	Name            string      `yaml:"name"`
	Host            string      `yaml:"host"`
	SchemaFiles     []string    `yaml:"schema_files"`
	IntrospectRetry RetryOption `yaml:"introspect_retry"`
}

// TracingConfig toggles OTLP/HTTP span export.
type TracingConfig struct {
	Enable   bool              `yaml:"enable" default:"false"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure" default:"true"`
	Headers  map[string]string `yaml:"headers"`
}

// OpentelemetryConfig groups telemetry settings under one YAML key.
type OpentelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// DemandControlConfig configures the static cost estimator shared by every
// request. No actual-cost accounting runs during request execution.
type DemandControlConfig struct {
	Enforce  bool `yaml:"enforce" default:"false"`
	Max      int  `yaml:"max" default:"1000"`
	ListSize int  `yaml:"list_size" default:"10"`
}

// BatchConfig bounds an inbound client batch.
type BatchConfig struct {
	MaxBatchSize int `yaml:"max_batch_size" default:"10"`
}

// PlannerConfig bounds planning work.
type PlannerConfig struct {
	MaxEvaluatedPlans int `yaml:"max_evaluated_plans" default:"10000"`
	PathsLimit        int `yaml:"paths_limit"`
	PlanCacheSize     int `yaml:"plan_cache_size" default:"1000"`
}

// GatewayOption is the top-level configuration loaded from gateway.yaml.
type GatewayOption struct {
	Endpoint        string               `yaml:"endpoint"`
	ServiceName     string               `yaml:"service_name"`
	Port            int                  `yaml:"port"`
	TimeoutDuration string               `yaml:"timeout_duration" default:"5s"`
	Subgraphs       []SubgraphConfig     `yaml:"subgraphs"`
	Opentelemetry   OpentelemetryConfig  `yaml:"opentelemetry"`
	DemandControl   DemandControlConfig  `yaml:"demand_control"`
	Batch           BatchConfig          `yaml:"batch"`
	Planner         PlannerConfig        `yaml:"planner"`
}
