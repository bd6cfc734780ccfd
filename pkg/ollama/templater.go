package ollama

import (
	"bytes"
	"text/template"

	"github.com/cockroachdb/errors"
)

// RenderTemplate renders a prompt template with the provided data. Missing
// keys are an error so a prompt never goes out with "<no value>" in it.
func RenderTemplate(tmpl string, data any) (string, error) {
	tpl, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parse prompt template")
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "render prompt template")
	}

	return buf.String(), nil
}
