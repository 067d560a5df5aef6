package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanagent/skillhub/internal/types"
)

func TestDeriveIDUniqueAcrossRecreates(t *testing.T) {
	a := DeriveID("excel_analyzer", "agent-a")
	b := DeriveID("excel_analyzer", "agent-a")

	assert.Len(t, a, IDHexLen)
	assert.Len(t, b, IDHexLen)
	assert.NotEqual(t, a, b, "re-creating the same skill must yield a new id")
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"excel_analyzer", "excel_analyzer"},
		{"my/skill:v2", "my_skill_v2"},
		{`a<b>c"d`, "a_b_c_d"},
		{"tab\tand\x00nul", "tabandnul"},
		{"", "skill"},
		{".", "skill"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeName(tc.in), "input %q", tc.in)
	}

	long := SanitizeName(strings.Repeat("x", 500))
	assert.Len(t, long, MaxNameLen)
}

func TestValidateCodeJavaScript(t *testing.T) {
	require.NoError(t, ValidateCode("function add(a, b) { return a + b; }", "javascript"))

	err := ValidateCode("function (", "javascript")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.Contains(t, err.Error(), "javascript syntax error")
}

func TestValidateCodeShell(t *testing.T) {
	require.NoError(t, ValidateCode("echo hello | wc -l", "shell"))

	err := ValidateCode("if [ -z $x ; then echo", "bash")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestValidateCodeUnsupportedLanguageIsNoop(t *testing.T) {
	// No grammar for rust here: validation must succeed, by design.
	assert.NoError(t, ValidateCode("fn main() { let x = ; }", "rust"))
}

func TestValidateCodeRejectsEmpty(t *testing.T) {
	err := ValidateCode("   \n", "python")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion(""))
	assert.NoError(t, ValidateVersion("1.2.3"))
	assert.Error(t, ValidateVersion("not-a-version"))
}

func TestExtractImports(t *testing.T) {
	code := `
import axios from "axios";
import helper from "./helper";
const lodash = require("lodash/fp");
const fs = require("fs");
`
	got := ExtractImports(code, "js")
	assert.ElementsMatch(t, []string{"axios", "lodash"}, got)

	assert.Nil(t, ExtractImports("import x", "python"))
}
