package discovery

import (
	"net/url"
	"strings"
)

// Placeholders recognized in an authentication URL template.
const (
	placeholderReturnTo = "@RETURN_TO@"
	placeholderOrgID    = "@ORG_ID@"
)

// ExpandAuthTemplate substitutes the return-to URL and organization ID into
// an authentication URL template. Both values are query-escaped, since
// templates embed them as query parameters of the organization portal.
//
// A template without placeholders is returned as-is; callers that pass an
// empty template get the plain return-to URL back, so the result is always
// openable.
func ExpandAuthTemplate(template, returnTo, orgID string) string {
	if template == "" {
		return returnTo
	}

	expanded := strings.ReplaceAll(template, placeholderReturnTo, url.QueryEscape(returnTo))
	expanded = strings.ReplaceAll(expanded, placeholderOrgID, url.QueryEscape(orgID))
	return expanded
}
