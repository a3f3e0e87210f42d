package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/trust-ethos/ethos-connect/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// option is one leaf of the configuration tree.
type option struct {
	Env         string
	Flag        string
	Section     string
	Description string
	Default     any
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.NewDefaultConfiguration()
	options := collect(reflect.TypeOf(*cfg), reflect.ValueOf(*cfg), nil)

	log.Info().Int("options", len(options)).Msg("Collected configuration options")

	outputs := map[string][]byte{
		".env.example":  renderEnv(options),
		"config.gen.md": renderMarkdown(options),
	}

	for file, contents := range outputs {
		if err := os.WriteFile(file, contents, 0644); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to write file")
		}
		log.Info().Str("file", file).Msg("Generated file")
	}
}

// collect walks the config struct. Path holds the yaml names of the parents,
// map fields contribute a NAME placeholder segment.
func collect(t reflect.Type, v reflect.Value, path []string) []option {
	options := make([]option, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("yaml")

		if tag == "-" || tag == "" {
			continue
		}

		child := append(append([]string{}, path...), tag)

		switch field.Type.Kind() {
		case reflect.Struct:
			options = append(options, collect(field.Type, v.Field(i), child)...)
		case reflect.Map:
			if field.Type.Key().Kind() != reflect.String || field.Type.Elem().Kind() != reflect.Struct {
				log.Warn().Str("field", field.Name).Msg("Skipping unsupported map field")
				continue
			}
			elem := field.Type.Elem()
			options = append(options, collect(elem, reflect.New(elem).Elem(), append(child, "[name]"))...)
		case reflect.Bool, reflect.String, reflect.Int, reflect.Slice:
			options = append(options, newOption(child, field.Tag.Get("description"), v.Field(i).Interface()))
		default:
			log.Warn().Str("field", field.Name).Str("kind", field.Type.Kind().String()).Msg("Skipping unsupported field")
		}
	}

	return options
}

func newOption(path []string, description string, value any) option {
	env := make([]string, 0, len(path))
	for _, segment := range path {
		if segment == "[name]" {
			segment = "name"
		}
		env = append(env, strings.ToUpper(segment))
	}

	if list, ok := value.([]string); ok {
		value = strings.Join(list, ",")
	}

	section := ""
	if len(path) > 1 {
		section = path[0]
	}

	return option{
		Env:         config.DefaultNamePrefix + strings.Join(env, "_"),
		Flag:        "--" + strings.ToLower(strings.Join(path, ".")),
		Section:     section,
		Description: description,
		Default:     value,
	}
}

func renderEnv(options []option) []byte {
	var builder strings.Builder

	builder.WriteString("# Ethos Connect example configuration\n\n")

	for _, opt := range options {
		fmt.Fprintf(&builder, "# %s\n", opt.Description)

		switch value := opt.Default.(type) {
		case string:
			if value == "" {
				fmt.Fprintf(&builder, "%s=\n\n", opt.Env)
			} else {
				fmt.Fprintf(&builder, "%s=%q\n\n", opt.Env, value)
			}
		default:
			fmt.Fprintf(&builder, "%s=%v\n\n", opt.Env, value)
		}
	}

	return []byte(builder.String())
}

func renderMarkdown(options []option) []byte {
	var builder strings.Builder

	header := "| Environment | Flag | Description | Default |\n| - | - | - | - |\n"

	builder.WriteString("# Ethos Connect configuration reference\n\n")
	builder.WriteString(header)

	section := ""

	for _, opt := range options {
		if opt.Section != section {
			section = opt.Section
			fmt.Fprintf(&builder, "\n## %s\n\n%s", section, header)
		}
		fmt.Fprintf(&builder, "| `%s` | `%s` | %s | `%v` |\n", opt.Env, opt.Flag, opt.Description, opt.Default)
	}

	return []byte(builder.String())
}
