package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/rickb777/date/period"

	"github.com/tsarna/eventer/pkg/eventer/session"
)

type BlockHandler interface {
	Process(config *Config, block *hcl.Block) hcl.Diagnostics
	FinishProcessing(config *Config) hcl.Diagnostics
}

type BlockHandlerBase struct {
}

func (b *BlockHandlerBase) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishProcessing(config *Config) hcl.Diagnostics {
	return nil
}

func GetBlockHandlers() map[string]BlockHandler {
	return map[string]BlockHandler{
		"admin":   &AdminBlockHandler{},
		"backend": &BackendBlockHandler{},
		"probe":   &ProbeBlockHandler{},
		"push":    &PushBlockHandler{},
		"secrets": &SecretsBlockHandler{},
		"server":  &ServerBlockHandler{},
	}
}

func errorAt(rng hcl.Range, summary, detail string) hcl.Diagnostics {
	return hcl.Diagnostics{&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  &rng,
	}}
}

// server

type ServerDefinition struct {
	Listen        string         `hcl:"listen,optional"`
	ReadTimeout   hcl.Expression `hcl:"read_timeout,optional"`
	WriteTimeout  hcl.Expression `hcl:"write_timeout,optional"`
	MaxFrameBytes *int           `hcl:"max_frame_bytes,optional"`
}

type ServerBlockHandler struct {
	BlockHandlerBase
}

func (h *ServerBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := ServerDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	if def.Listen != "" {
		config.Server.Listen = def.Listen
	}
	diags = diags.Extend(config.optionalDuration(def.ReadTimeout, &config.Server.ReadTimeout))
	diags = diags.Extend(config.optionalDuration(def.WriteTimeout, &config.Server.WriteTimeout))
	if IsExpressionProvided(def.WriteTimeout) && config.Server.WriteTimeout == 0 {
		diags = diags.Extend(errorAt(def.WriteTimeout.Range(), "Invalid write_timeout", "write_timeout must be positive"))
	}

	if def.MaxFrameBytes != nil {
		if *def.MaxFrameBytes < 3 {
			diags = diags.Extend(errorAt(block.DefRange, "Invalid max_frame_bytes",
				fmt.Sprintf("max_frame_bytes must be at least 3, got %d", *def.MaxFrameBytes)))
		} else {
			config.Server.MaxFrameBytes = *def.MaxFrameBytes
		}
	}
	return diags
}

// admin

type AdminDefinition struct {
	Listen        string `hcl:"listen"`
	WebsocketPath string `hcl:"websocket_path,optional"`
	Metrics       string `hcl:"metrics,optional"`
}

type AdminBlockHandler struct {
	BlockHandlerBase
}

func (h *AdminBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := AdminDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	config.Admin.Listen = def.Listen
	config.Admin.WebsocketPath = def.WebsocketPath

	switch def.Metrics {
	case "":
	case MetricsPrometheus, MetricsOtel, MetricsNone:
		config.Admin.Metrics = def.Metrics
	default:
		diags = diags.Extend(errorAt(block.DefRange, "Invalid metrics provider",
			fmt.Sprintf("metrics must be one of %q, %q or %q, got %q", MetricsPrometheus, MetricsOtel, MetricsNone, def.Metrics)))
	}
	return diags
}

// secrets

type SecretsDefinition struct {
	MasterKey string `hcl:"master_key"`
	Salt      string `hcl:"salt"`
	Pepper    string `hcl:"pepper"`
}

type SecretsBlockHandler struct {
	BlockHandlerBase
}

func (h *SecretsBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := SecretsDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	config.Secrets.MasterKey = def.MasterKey
	config.Secrets.Salt = def.Salt
	config.Secrets.Pepper = def.Pepper
	return diags
}

func (h *SecretsBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	if _, ok := config.defined["secrets"]; !ok {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing secrets block",
			Detail:   "A secrets block with master_key, salt and pepper is required",
		}}
	}
	return nil
}

// push

type PushDefinition struct {
	Interval    hcl.Expression `hcl:"interval,optional"`
	Mode        string         `hcl:"mode,optional"`
	TableQuery  string         `hcl:"table_query,optional"`
	TableWindow string         `hcl:"table_window,optional"`
}

type PushBlockHandler struct {
	BlockHandlerBase
}

func (h *PushBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := PushDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	diags = diags.Extend(config.optionalDuration(def.Interval, &config.Push.Interval))
	if IsExpressionProvided(def.Interval) && config.Push.Interval == 0 {
		diags = diags.Extend(errorAt(def.Interval.Range(), "Invalid push interval", "interval must be positive"))
	}

	switch session.PushMode(def.Mode) {
	case "":
	case session.PushSubscribed, session.PushAlternate:
		config.Push.Mode = session.PushMode(def.Mode)
	default:
		diags = diags.Extend(errorAt(block.DefRange, "Invalid push mode",
			fmt.Sprintf("mode must be %q or %q, got %q", session.PushSubscribed, session.PushAlternate, def.Mode)))
	}

	if def.TableQuery != "" {
		config.Push.TableQuery = def.TableQuery
	}
	if def.TableWindow != "" {
		if _, err := period.Parse(def.TableWindow); err != nil {
			diags = diags.Extend(errorAt(block.DefRange, "Invalid table_window",
				fmt.Sprintf("table_window must be an ISO 8601 period such as P1D: %v", err)))
		} else {
			config.Push.TableWindow = def.TableWindow
		}
	}
	return diags
}

// probe

type ProbeDefinition struct {
	Schedule string `hcl:"schedule,optional"`
	Disabled bool   `hcl:"disabled,optional"`
}

type ProbeBlockHandler struct {
	BlockHandlerBase
}

func (h *ProbeBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := ProbeDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	if def.Schedule != "" {
		if err := session.ValidateSchedule(def.Schedule); err != nil {
			return diags.Extend(errorAt(block.DefRange, "Invalid probe schedule",
				fmt.Sprintf("Failed to parse schedule '%s': %v", def.Schedule, err)))
		}
		config.Probe.Schedule = def.Schedule
	}
	config.Probe.Disabled = def.Disabled
	return diags
}
