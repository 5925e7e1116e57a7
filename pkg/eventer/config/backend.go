package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/tsarna/eventer/pkg/eventer/backend"
)

type BackendDefinition struct {
	Type          string   `hcl:",label"`
	RemainingBody hcl.Body `hcl:",remain"`
}

type BackendBlockHandler struct {
	BlockHandlerBase
}

func (h *BackendBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := BackendDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}
	def.Type = block.Labels[0]

	var (
		b        backend.Backend
		addDiags hcl.Diagnostics
	)
	switch def.Type {
	case "http":
		b, addDiags = processHTTPBackend(config, block, def.RemainingBody)
	case "memory":
		b, addDiags = processMemoryBackend(config, def.RemainingBody)
	default:
		return errorAt(block.DefRange, "Invalid backend type",
			fmt.Sprintf("Invalid backend type: %s", def.Type))
	}
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return diags
	}

	config.BackendType = def.Type
	config.Backend = b
	return diags
}

func (h *BackendBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	if config.Backend == nil {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing backend block",
			Detail:   `A backend "http" or backend "memory" block is required`,
		}}
	}
	return nil
}

type EndpointDefinition struct {
	Path   string `hcl:"path,optional"`
	Result string `hcl:"result,optional"`
}

func (e *EndpointDefinition) endpoint() backend.Endpoint {
	if e == nil {
		return backend.Endpoint{}
	}
	return backend.Endpoint{Path: e.Path, Result: e.Result}
}

type HTTPBackendDefinition struct {
	BaseURL        string              `hcl:"base_url"`
	Timeout        hcl.Expression      `hcl:"timeout,optional"`
	Validate       *EndpointDefinition `hcl:"validate,block"`
	StoredQuery    *EndpointDefinition `hcl:"stored_query,block"`
	NotifyMessages *EndpointDefinition `hcl:"notify_messages,block"`
	FireEvent      *EndpointDefinition `hcl:"fire_event,block"`
}

func processHTTPBackend(config *Config, block *hcl.Block, body hcl.Body) (backend.Backend, hcl.Diagnostics) {
	def := HTTPBackendDefinition{}
	diags := gohcl.DecodeBody(body, config.evalCtx, &def)
	if diags.HasErrors() {
		return nil, diags
	}

	httpConfig := backend.HTTPConfig{
		BaseURL:        def.BaseURL,
		Logger:         config.Logger.Named("backend"),
		Validate:       def.Validate.endpoint(),
		StoredQuery:    def.StoredQuery.endpoint(),
		NotifyMessages: def.NotifyMessages.endpoint(),
		FireEvent:      def.FireEvent.endpoint(),
	}
	diags = diags.Extend(config.optionalDuration(def.Timeout, &httpConfig.Timeout))
	if diags.HasErrors() {
		return nil, diags
	}

	b, err := backend.NewHTTP(httpConfig)
	if err != nil {
		return nil, diags.Extend(errorAt(block.DefRange, "Invalid http backend", err.Error()))
	}
	return b, diags
}

type MemoryCredentialDefinition struct {
	Credential string  `hcl:"credential,label"`
	Principal  string  `hcl:"principal"`
	Table      *string `hcl:"table,optional"`
	List       *string `hcl:"list,optional"`
}

type MemoryBackendDefinition struct {
	Table       string                       `hcl:"table,optional"`
	List        string                       `hcl:"list,optional"`
	Credentials []MemoryCredentialDefinition `hcl:"credential,block"`
}

// processMemoryBackend builds a self-contained backend for demos and
// local testing.
func processMemoryBackend(config *Config, body hcl.Body) (backend.Backend, hcl.Diagnostics) {
	def := MemoryBackendDefinition{}
	diags := gohcl.DecodeBody(body, config.evalCtx, &def)
	if diags.HasErrors() {
		return nil, diags
	}

	m := backend.NewMemory()
	m.SetTable("", def.Table)
	m.SetList("", def.List)
	for _, cred := range def.Credentials {
		m.AddCredential(cred.Credential, cred.Principal)
		if cred.Table != nil {
			m.SetTable(cred.Credential, *cred.Table)
		}
		if cred.List != nil {
			m.SetList(cred.Credential, *cred.List)
		}
	}
	return m, diags
}
