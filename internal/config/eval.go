// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// envFunc is env(name, default): the value of an environment variable, or
// default when it is unset or empty.
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
		{Name: "default", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if v := os.Getenv(args[0].AsString()); v != "" {
			return cty.StringVal(v), nil
		}
		return args[1], nil
	},
})

// evalContext is what expressions in a config file can refer to.
func evalContext() *hcl.EvalContext {
	host, _ := os.Hostname()
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"hostname": cty.StringVal(host),
		},
		Functions: map[string]function.Function{
			"env": envFunc,
		},
	}
}
