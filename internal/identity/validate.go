package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/dop251/goja/parser"
	"mvdan.cc/sh/v3/syntax"

	"github.com/lanagent/skillhub/internal/types"
)

// ValidateCode checks submitted code under the declared language's
// grammar. Languages without a parser here are accepted as-is: that is
// an explicit escape hatch for the long tail of languages, not a bug.
// Parser diagnostics are preserved in the returned error.
func ValidateCode(code, language string) error {
	if strings.TrimSpace(code) == "" {
		return types.NewError(types.KindValidation, "code must not be empty")
	}

	switch strings.ToLower(language) {
	case "javascript", "js":
		if _, err := parser.ParseFile(nil, "skill.js", code, 0); err != nil {
			return types.WrapError(types.KindValidation, "javascript syntax error", err)
		}
	case "shell", "sh", "bash":
		p := syntax.NewParser(syntax.Variant(syntax.LangBash))
		if _, err := p.Parse(strings.NewReader(code), "skill.sh"); err != nil {
			return types.WrapError(types.KindValidation, "shell syntax error", err)
		}
	}
	return nil
}

// ValidateVersion checks that a skill declares a parseable semantic
// version. An empty version is allowed; callers default it to 1.0.0.
func ValidateVersion(version string) error {
	if version == "" {
		return nil
	}
	if _, err := semver.NewVersion(version); err != nil {
		return types.WrapError(types.KindValidation,
			fmt.Sprintf("invalid semantic version %q", version), err)
	}
	return nil
}

// ValidateMetadata runs all syntactic checks over submitted metadata.
func ValidateMetadata(meta types.SkillMetadata) error {
	if strings.TrimSpace(meta.Name) == "" {
		return types.NewError(types.KindValidation, "name must not be empty")
	}
	if err := ValidateVersion(meta.Version); err != nil {
		return err
	}
	return nil
}

var jsImportRe = regexp.MustCompile(`(?m)^\s*(?:import\s+.*?from\s+['"]([^'"]+)['"]|(?:const|let|var)\s+\w+\s*=\s*require\(['"]([^'"]+)['"]\))`)

// ExtractImports lists top-level modules referenced by the code, for
// cross-checking declared dependencies. Informational only: it never
// fails validation. Relative imports and the node builtins commonly
// found in skills are excluded.
func ExtractImports(code, language string) []string {
	switch strings.ToLower(language) {
	case "javascript", "js":
	default:
		return nil
	}

	builtin := map[string]bool{"fs": true, "path": true, "os": true, "util": true, "http": true}
	seen := make(map[string]bool)
	var imports []string
	for _, m := range jsImportRe.FindAllStringSubmatch(code, -1) {
		module := m[1]
		if module == "" {
			module = m[2]
		}
		if module == "" || strings.HasPrefix(module, ".") {
			continue
		}
		top := strings.SplitN(module, "/", 2)[0]
		if builtin[top] || seen[top] {
			continue
		}
		seen[top] = true
		imports = append(imports, top)
	}
	return imports
}
