package intents

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/xela07ax/academy-automation/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var messageTemplates = template.Must(
	template.New("messages").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl"),
)

// render собирает текст сообщения по template_id из снимка
func render(templateID string, data map[string]string) (string, error) {
	t := messageTemplates.Lookup(templateID + ".tmpl")
	if t == nil {
		return "", domain.NewError(domain.CodeNotificationCreationFailed, "unknown template "+templateID)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", domain.WrapError(domain.CodeNotificationCreationFailed, fmt.Sprintf("render %s", templateID), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
