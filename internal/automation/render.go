// SPDX-License-Identifier: Apache-2.0

package automation

import (
	"regexp"
	"strconv"

	"github.com/adiadia/crm-automation/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Render substitutes {{name}} placeholders. Unknown names are left verbatim.
func Render(tmpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// TemplateVars exposes the prospect fields available to step templates.
func TemplateVars(p domain.Prospect) map[string]string {
	vars := map[string]string{
		"prospect_name": p.ContactName,
		"first_name":    p.FirstName(),
		"company_name":  p.CompanyName,
		"email":         p.Email,
		"status":        string(p.Status),
		"segment":       p.Segment,
		"assigned_to":   p.AssignedTo,
		"deal_value":    "",
	}
	if p.DealValue != nil {
		vars["deal_value"] = strconv.FormatFloat(*p.DealValue, 'f', -1, 64)
	}
	return vars
}
