// Package prompts contains the LLM prompt templates used by Sage.
//
// Prompt text is Go code rather than config files because it is program
// logic: the agent's output parser depends on the exact field labels the
// agent prompt teaches, and tests pin that agreement. User-facing
// configuration lives in config.yaml.
//
// Convention: each prompt category gets its own file (agent.go,
// summary.go, python.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
