// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

// Bind sets flags on a FlagSet that match the configuration struct
// 'config'. Fields are walked recursively; nested structs become dotted
// prefixes, embedded structs are flattened. Every leaf field takes its usage from the `help` tag and its
// default from the `default` tag, with $NAME occurrences replaced from vars.
func Bind(flags *pflag.FlagSet, config interface{}, vars map[string]string) {
	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("invalid config type: %#v. Expecting pointer to struct.", config))
	}
	bindConfig(flags, "", ptr.Elem(), vars)
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindConfig(flags *pflag.FlagSet, prefix string, val reflect.Value, vars map[string]string) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		fieldval := val.Field(i)
		flagname := prefix + hyphenate(snakeCase(field.Name))

		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			if field.Anonymous {
				bindConfig(flags, prefix, fieldval, vars)
				continue
			}
			bindConfig(flags, flagname+".", fieldval, vars)
			continue
		}

		help := field.Tag.Get("help")
		def := expand(field.Tag.Get("default"), vars)
		fieldaddr := fieldval.Addr().Interface()

		switch field.Type {
		case durationType:
			flags.DurationVar(fieldaddr.(*time.Duration), flagname, mustDuration(flagname, def), help)
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			flags.StringVar(fieldaddr.(*string), flagname, def, help)
		case reflect.Bool:
			flags.BoolVar(fieldaddr.(*bool), flagname, def == "true", help)
		case reflect.Int:
			flags.IntVar(fieldaddr.(*int), flagname, int(mustInt(flagname, def)), help)
		case reflect.Int64:
			flags.Int64Var(fieldaddr.(*int64), flagname, mustInt(flagname, def), help)
		case reflect.Uint64:
			flags.Uint64Var(fieldaddr.(*uint64), flagname, mustUint(flagname, def), help)
		case reflect.Slice:
			if field.Type.Elem().Kind() != reflect.String {
				panic(fmt.Sprintf("invalid field type: %s", field.Type.String()))
			}
			var defs []string
			if def != "" {
				defs = strings.Split(def, ",")
			}
			flags.StringSliceVar(fieldaddr.(*[]string), flagname, defs, help)
		default:
			panic(fmt.Sprintf("invalid field type: %s", field.Type.String()))
		}
	}
}

func expand(value string, vars map[string]string) string {
	for name, replacement := range vars {
		value = strings.ReplaceAll(value, "$"+name, replacement)
	}
	return value
}

func mustInt(name, value string) int64 {
	if value == "" {
		return 0
	}
	v, err := strconv.ParseInt(value, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %s: %v", name, err))
	}
	return v
}

func mustUint(name, value string) uint64 {
	if value == "" {
		return 0
	}
	v, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %s: %v", name, err))
	}
	return v
}

func mustDuration(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid default for %s: %v", name, err))
	}
	return v
}

func hyphenate(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// snakeCase turns CamelCase into snake_case, keeping acronyms together
// (MD5Sum -> md5_sum, DSN -> dsn).
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) || unicode.IsDigit(prev)) && nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
