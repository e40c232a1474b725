// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package permission decides access to archived objects with CEL expressions over the request
// headers and the permission values stored on each object.
package permission

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/errs2"
)

var (
	// Error is the default permission error class.
	Error = errs.Class("permission")

	mon = monkit.Package()

	variablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Config defines where the permission template is loaded from.
type Config struct {
	Template     string `help:"path of the permission template, empty grants everything" default:""`
	HeaderPrefix string `help:"prefix every header a permission variable reads must carry" default:"X-CASPER-"`
}

// Template maps permission variables to request headers and holds the expression deciding
// each permission.
type Template struct {
	Variables map[string]string `json:"variables"`
	Read      string            `json:"read"`
	Write     string            `json:"write"`
	Delete    string            `json:"delete"`

	programs map[archive.Permission]cel.Program
}

// LoadTemplate reads a template from a JSON file, which may contain comments.
func LoadTemplate(path, headerPrefix string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ParseTemplate(data, headerPrefix)
}

// ParseTemplate parses and compiles a template. Every variable must read a header starting
// with headerPrefix.
func ParseTemplate(data []byte, headerPrefix string) (*Template, error) {
	var template Template
	if err := json.Unmarshal(jsonc.ToJSON(data), &template); err != nil {
		return nil, errs2.BadRequest.Wrap(Error.Wrap(err))
	}

	prefix := strings.ToUpper(headerPrefix)
	for name, header := range template.Variables {
		if !variablePattern.MatchString(name) {
			return nil, errs2.BadRequest.Wrap(Error.New("invalid variable name %q", name))
		}
		if prefix == "" || !strings.HasPrefix(strings.ToUpper(header), prefix) {
			return nil, errs2.BadRequest.Wrap(Error.New("variable %q reads header %q without prefix %q", name, header, headerPrefix))
		}
	}

	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	template.programs = map[archive.Permission]cel.Program{}
	for permission, expr := range map[archive.Permission]string{
		archive.PermissionRead:   template.Read,
		archive.PermissionWrite:  template.Write,
		archive.PermissionDelete: template.Delete,
	} {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, errs2.BadRequest.Wrap(Error.New("%s expression: %v", permission, issues.Err()))
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, errs2.BadRequest.Wrap(Error.New("%s expression must be boolean, is %v", permission, ast.OutputType()))
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, errs2.BadRequest.Wrap(Error.Wrap(err))
		}
		template.programs[permission] = program
	}
	return &template, nil
}

// Evaluator returns the access decisions of a request carrying headers.
func (template *Template) Evaluator(headers map[string]string) *Evaluator {
	canonical := make(map[string]string, len(headers))
	for name, value := range headers {
		canonical[strings.ToUpper(name)] = value
	}
	vars := map[string]string{}
	for name, header := range template.Variables {
		if value, ok := canonical[strings.ToUpper(header)]; ok {
			vars[name] = value
		}
	}
	return &Evaluator{template: template, headers: canonical, vars: vars}
}

// Evaluator decides access on behalf of one request.
type Evaluator struct {
	template *Template
	headers  map[string]string
	vars     map[string]string
}

var _ archive.Access = (*Evaluator)(nil)

// Allowed implements archive.Access. A permission without expression is granted.
func (evaluator *Evaluator) Allowed(ctx context.Context, permission archive.Permission, attrs map[string]string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	program, ok := evaluator.template.programs[permission]
	if !ok {
		return true, nil
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := program.ContextEval(ctx, map[string]interface{}{
		"attrs":   attrs,
		"headers": evaluator.headers,
		"vars":    evaluator.vars,
	})
	if err != nil {
		return false, Error.Wrap(err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, Error.New("%s expression did not return a boolean, got %T", permission, out.Value())
	}
	return allowed, nil
}

// Compile implements archive.Access by emitting every variable the request has a value for.
func (evaluator *Evaluator) Compile(ctx context.Context, emit func(name, value string)) error {
	names := make([]string, 0, len(evaluator.vars))
	for name := range evaluator.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		emit(name, evaluator.vars[name])
	}
	return nil
}
