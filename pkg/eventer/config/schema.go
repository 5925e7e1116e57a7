package config

import (
	"github.com/hashicorp/hcl/v2"
)

var blockSchema = []hcl.BlockHeaderSchema{
	{
		Type:       "admin",
		LabelNames: []string{},
	},
	{
		Type:       "backend",
		LabelNames: []string{"type"},
	},
	{
		Type:       "probe",
		LabelNames: []string{},
	},
	{
		Type:       "push",
		LabelNames: []string{},
	},
	{
		Type:       "secrets",
		LabelNames: []string{},
	},
	{
		Type:       "server",
		LabelNames: []string{},
	},
}

var configSchema = &hcl.BodySchema{
	Blocks: blockSchema,
}
