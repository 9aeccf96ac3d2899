package unit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadExport_FlatFunctionList(t *testing.T) {
	path := writeExport(t, `{
		"functions": [
			{"address": "0x401000", "name": "decode_frame",
			 "code": "int iVar1;", "variables": ["iVar1", "param_1"]},
			{"address": "0x401200", "name": "no_vars", "code": "return;", "variables": []}
		]
	}`)

	units, err := LoadExport(path)
	require.NoError(t, err)
	require.Len(t, units, 1, "functions without variables are skipped")

	u := units[0]
	require.Equal(t, "decode_frame@0x401000", u.ID)
	require.Equal(t, []string{"iVar1", "param_1"}, u.AllowList)
	require.Contains(t, u.Prompt, "Function: decode_frame")
	require.Contains(t, u.Prompt, "iVar1, param_1")
	require.Equal(t, DefaultSystemPrompt, u.SystemPrompt)
}

func TestLoadExport_GroupedModules(t *testing.T) {
	path := writeExport(t, `{
		"modules": [
			{"module_name": "auth", "functions": [
				{"name": "check_pw", "code": "c", "variables": ["uVar2"]}
			]},
			{"module_name": "net", "functions": [
				{"name": "send_pkt", "code": "c", "variables": ["iVar1"]}
			]}
		]
	}`)

	units, err := LoadExport(path)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "check_pw", units[0].ID)
}

func TestLoadExport_Errors(t *testing.T) {
	_, err := LoadExport(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadExport(writeExport(t, `not json`))
	require.Error(t, err)

	_, err = LoadExport(writeExport(t, `{"functions": []}`))
	require.Error(t, err, "empty export must fail loudly")
}

func TestBuildPrompt_TruncatesOversizedCode(t *testing.T) {
	fn := Function{
		Name:      "huge",
		Code:      strings.Repeat("a", 20000),
		Variables: []string{"iVar1"},
	}
	prompt := BuildPrompt(fn)
	require.Contains(t, prompt, "[TRUNCATED]")
	require.Less(t, len(prompt), 14000, "prompt must stay near the head/tail budget")
}

func TestContext_Allowed(t *testing.T) {
	u := Context{AllowList: []string{"a", "b"}}
	require.True(t, u.Allowed("a"))
	require.False(t, u.Allowed("c"))
}
