// Package license decides whether a document's rights allow it into the index.
package license

import (
	"fmt"
	"strings"
	"unicode"

	"EduPipeline/internal/domain"
)

// OpenAccess is the normalized access-rights value the gate requires.
const OpenAccess = "openaccess"

var allowList = buildAllowList()

func buildAllowList() map[string]struct{} {
	paths := []string{
		"creativecommons.org/licenses/by/3.0",
		"creativecommons.org/licenses/by/4.0",
		"creativecommons.org/licenses/by-sa/3.0",
		"creativecommons.org/licenses/by-sa/4.0",
		"creativecommons.org/publicdomain/zero/1.0",
		"creativecommons.org/publicdomain/mark/1.0",
		// HAL's local public domain statement.
		"hal.archives-ouvertes.fr/licences/publicdomain",
	}

	out := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		out[p] = struct{}{}
	}
	return out
}

// Normalize reduces a license URL to the form used by the allow-list:
// scheme, www prefix, trailing slashes and deed/legalcode suffixes are dropped.
func Normalize(licenseURL string) string {
	v := strings.ToLower(strings.TrimSpace(licenseURL))
	for _, prefix := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(v, prefix); ok {
			v = rest
			break
		}
	}
	v = strings.TrimPrefix(v, "www.")
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimRight(v, "/")
	if i := strings.Index(v, "/legalcode"); i >= 0 {
		v = v[:i]
	}
	if i := strings.Index(v, "/deed"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimRight(v, "/")
}

// Allowed reports whether licenseURL is in the allow-list.
func Allowed(licenseURL string) bool {
	if !hasScheme(licenseURL) {
		return false
	}
	_, ok := allowList[Normalize(licenseURL)]
	return ok
}

func hasScheme(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

const euRepoPrefix = "info:eu-repo/semantics/"

// NormalizeAccess folds values like "info:eu-repo/semantics/openAccess" or
// "Open Access" to a letters-only lowercase token.
func NormalizeAccess(rights string) string {
	v := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(rights)), euRepoPrefix)
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsOpen reports whether the access rights allow indexing. An empty value means the
// source does not expose access rights.
func IsOpen(rights string) bool {
	if strings.TrimSpace(rights) == "" {
		return true
	}
	return NormalizeAccess(rights) == OpenAccess
}

// Check applies the gate to a (license, access rights) pair.
func Check(licenseURL, accessRights string) error {
	if !IsOpen(accessRights) {
		return fmt.Errorf("%w: %q", domain.ErrAccessNotOpen, accessRights)
	}
	if !Allowed(licenseURL) {
		return fmt.Errorf("%w: %q", domain.ErrLicenseNotAllowed, licenseURL)
	}
	return nil
}

var openAlexCodes = map[string]string{
	"cc-by":         "https://creativecommons.org/licenses/by/4.0/",
	"cc-by-sa":      "https://creativecommons.org/licenses/by-sa/4.0/",
	"cc0":           "https://creativecommons.org/publicdomain/zero/1.0/",
	"public-domain": "https://creativecommons.org/publicdomain/mark/1.0/",
}

// FromShortCode maps short license codes ("cc-by", "cc0", ...) to a canonical URL.
// Unknown codes return "".
func FromShortCode(code string) string {
	return openAlexCodes[strings.ToLower(strings.TrimSpace(code))]
}
