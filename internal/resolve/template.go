package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"mediaflow/internal/jobs"
)

// singleRef matches a value that is exactly one reference, so the referenced
// value keeps its type (a list of paths stays a list).
var singleRef = regexp.MustCompile(`^\s*\{\{-?\s*(output|input)\s+"([^"]+)"(?:\s+"([^"]+)")?\s*-?\}\}\s*$`)

func renderValue(field string, value any, job *jobs.Job) (any, error) {
	switch v := value.(type) {
	case string:
		return renderString(field, v, job)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := renderValue(field, item, job)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := renderValue(field, item, job)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

func renderString(field, text string, job *jobs.Job) (any, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	refs := references{job: job}

	if m := singleRef.FindStringSubmatch(text); m != nil {
		var (
			value any
			err   error
		)
		if m[1] == "output" {
			if m[3] == "" {
				return nil, &TemplateError{Field: field, Template: text, Reason: "output needs a stage and a field"}
			}
			value, err = refs.output(m[2], m[3])
		} else {
			value, err = refs.input(m[2])
		}
		if err != nil {
			return nil, &TemplateError{Field: field, Template: text, Reason: err.Error()}
		}
		return value, nil
	}

	tmpl, err := template.New(field).Option("missingkey=error").Funcs(template.FuncMap{
		"output": refs.output,
		"input":  refs.input,
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"base":  func(v any) string { return filepath.Base(fmt.Sprint(v)) },
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
	}).Parse(text)
	if err != nil {
		return nil, &TemplateError{Field: field, Template: text, Reason: "parse: " + err.Error()}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, &TemplateError{Field: field, Template: text, Reason: unwrapExecError(err)}
	}
	return buf.String(), nil
}

type references struct {
	job *jobs.Job
}

func (r references) output(stage, field string) (any, error) {
	exec := r.job.Stage(stage)
	if exec == nil {
		return nil, fmt.Errorf("stage %s is not part of the job", stage)
	}
	if exec.Status != jobs.StatusSuccess {
		return nil, fmt.Errorf("stage %s has status %s, not success", stage, exec.Status)
	}
	value, ok := exec.Output[field]
	if !ok || value == nil {
		return nil, fmt.Errorf("stage %s output has no field %s", stage, field)
	}
	return value, nil
}

func (r references) input(field string) (any, error) {
	if r.job == nil {
		return nil, fmt.Errorf("no job payload for input %s", field)
	}
	value, ok := r.job.Input.Payload[field]
	if !ok || value == nil {
		return nil, fmt.Errorf("job input has no field %s", field)
	}
	return value, nil
}

// unwrapExecError trims text/template's location prefix so the stage error
// carries the reference problem itself.
func unwrapExecError(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "error calling "); i >= 0 {
		if j := strings.Index(msg[i:], ": "); j >= 0 {
			return msg[i+j+2:]
		}
	}
	return msg
}
