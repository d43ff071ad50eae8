package campaign

import (
	"context"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"regexp"
	"strings"
)

const DefaultMessageTemplate = "Hi {{name}},"

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// TemplateDrafter fills {{field}} placeholders of the campaign template from the contact.
// Unknown fields render empty.
type TemplateDrafter struct{}

func (TemplateDrafter) Draft(_ context.Context, params jobs.CampaignParams, contact map[string]any, _ int) (string, error) {
	tmpl := params.MessageTemplate
	if tmpl == "" {
		tmpl = DefaultMessageTemplate
	}
	message := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := contact[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	})
	return strings.TrimSpace(message), nil
}
