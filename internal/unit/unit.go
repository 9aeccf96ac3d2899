// Package unit defines the atomic decision units consumed by the voting
// pipeline. Units are produced by an external decomposition step (a binary
// analysis export grouped by the upstream librarian); this package only
// models the contract and loads the export — it never performs decomposition
// itself.
package unit

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt instructs the oracle to propose variable renames as a
// strict JSON map. Constraint wording matters: models that invent variables
// or add commentary get red-flagged downstream.
const DefaultSystemPrompt = `You are a Reverse Engineering Expert.
Your Task: Rename generic variables (iVar1, uVar2, param_1) to semantic names based on code logic.
- Input: Generic C code.
- Output: A JSON map: {"old_name": "new_name"}.
- Constraint 1: Do NOT invent variables. Only rename existing ones.
- Constraint 2: Output JSON ONLY. No commentary.
- Constraint 3: If you cannot determine a meaningful name, leave it out.`

// Code longer than maxPromptCode characters is truncated head/tail before
// prompting; oversized prompts measurably degrade sample quality.
const (
	maxPromptCode  = 12000
	promptKeepSize = 6000
)

// Predicate is a unit-specific admissibility check run after the built-in
// red-flag checks. It receives the decoded payload and returns a rejection
// reason, or "" to accept.
type Predicate func(payload map[string]string) (reason string)

// Context is the read-only description of one atomic decision unit.
// It carries everything a voting session needs: the oracle prompt, the
// allow-list used for referential integrity, and optional validator
// overrides. Contexts are immutable once built.
type Context struct {
	ID           string   `json:"id"`
	SystemPrompt string   `json:"system_prompt"`
	Prompt       string   `json:"prompt"`
	AllowList    []string `json:"allow_list"`
	RequiredKeys []string `json:"required_keys,omitempty"`

	// Predicates run last in the validator chain, in order.
	Predicates []Predicate `json:"-"`
}

// Allowed reports whether name is in the unit's allow-list.
func (c *Context) Allowed(name string) bool {
	for _, v := range c.AllowList {
		if v == name {
			return true
		}
	}
	return false
}

// Function is one function record from the decomposition export.
type Function struct {
	Address    string            `json:"address"`
	Name       string            `json:"name"`
	Code       string            `json:"code"`
	Variables  []string          `json:"variables"`
	VarTypes   map[string]string `json:"var_types,omitempty"`
	ParamCount int               `json:"param_count,omitempty"`
	ReturnType string            `json:"return_type,omitempty"`
}

// FromFunction builds a unit Context for a single exported function.
// The function's variable list becomes the allow-list.
func FromFunction(fn Function) Context {
	return Context{
		ID:           unitID(fn),
		SystemPrompt: DefaultSystemPrompt,
		Prompt:       BuildPrompt(fn),
		AllowList:    append([]string(nil), fn.Variables...),
	}
}

func unitID(fn Function) string {
	if fn.Address != "" {
		return fmt.Sprintf("%s@%s", fn.Name, fn.Address)
	}
	return fn.Name
}

// BuildPrompt assembles the user prompt for one function, truncating
// oversized code to its head and tail.
func BuildPrompt(fn Function) string {
	code := fn.Code
	if len(code) > maxPromptCode {
		code = code[:promptKeepSize] + "\n...[TRUNCATED]...\n" + code[len(code)-promptKeepSize:]
	}
	return fmt.Sprintf("Function: %s\nVariables: %s\n\nCode:\n%s",
		fn.Name, strings.Join(fn.Variables, ", "), code)
}
