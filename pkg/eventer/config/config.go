// Package config loads the gateway configuration from HCL files.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/backend"
	"github.com/tsarna/eventer/pkg/eventer/credential"
	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/session"
	"github.com/tsarna/eventer/pkg/eventer/wire"
)

const (
	DefaultListen        = ":9234"
	DefaultMetrics       = MetricsPrometheus
	MetricsPrometheus    = "prometheus"
	MetricsOtel          = "otel"
	MetricsNone          = "none"
	DefaultProbeSchedule = session.DefaultProbeSchedule
)

type ConfigBuilder struct {
	logger        *zap.Logger
	sources       []any
	blockHandlers map[string]BlockHandler
}

type ServerSettings struct {
	Listen        string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
}

// AdminSettings describes the admin HTTP listener. It is disabled when
// Listen is empty.
type AdminSettings struct {
	Listen        string
	WebsocketPath string
	Metrics       string
}

type PushSettings struct {
	Interval    time.Duration
	Mode        session.PushMode
	TableQuery  string
	TableWindow string
}

type ProbeSettings struct {
	Schedule string
	Disabled bool
}

type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	Server  ServerSettings
	Admin   AdminSettings
	Secrets credential.Secrets
	Push    PushSettings
	Probe   ProbeSettings

	BackendType string
	Backend     backend.Backend

	defined map[string]hcl.Range
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		sources:       make([]any, 0),
		blockHandlers: GetBlockHandlers(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	cb.logger = logger
	return cb
}

// WithSources adds files, directories, []byte contents or fs.FS trees
// such as embed.FS to load.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

func defaultConfig(logger *zap.Logger) *Config {
	return &Config{
		Logger:    logger,
		Constants: make(map[string]cty.Value),
		Server: ServerSettings{
			Listen:        DefaultListen,
			WriteTimeout:  10 * time.Second,
			MaxFrameBytes: wire.DefaultMaxFrameBytes,
		},
		Admin: AdminSettings{
			Metrics: DefaultMetrics,
		},
		Push: PushSettings{
			Interval:    session.DefaultPushInterval,
			Mode:        session.PushSubscribed,
			TableQuery:  message.DefaultTableQuery,
			TableWindow: message.DefaultTableWindow,
		},
		Probe: ProbeSettings{
			Schedule: DefaultProbeSchedule,
		},
		defined: make(map[string]hcl.Range),
	}
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	logger := cb.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	config := defaultConfig(logger)

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	blocks, addDiags := cb.GetBlocks(bodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Constants["env"] = GetEnvObject()
	config.Functions = GetFunctions()
	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	for _, block := range blocks {
		handler, ok := cb.blockHandlers[block.Type]
		if !ok {
			continue
		}
		if prev, dup := config.defined[block.Type]; dup {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate block",
				Detail:   fmt.Sprintf("Only one %s block is allowed; the first is at %s", block.Type, prev),
				Subject:  &block.DefRange,
			})
			continue
		}
		config.defined[block.Type] = block.DefRange
		diags = diags.Extend(handler.Process(config, block))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, handler := range cb.blockHandlers {
		diags = diags.Extend(handler.FinishProcessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully",
		zap.String("listen", config.Server.Listen),
		zap.String("backend", config.BackendType),
	)

	return config, diags
}
