package prompts

import "fmt"

// PythonRefusal is the reply the expert gives to non-Python questions.
const PythonRefusal = "I can only help with Python-related questions."

const pythonExpertTemplate = `You are a Python expert assistant.
You ONLY answer Python-related questions.

Rules:
- Explain clearly
- Fix bugs if code is given
- If NOT Python-related, reply:
  '%s'

User input:
%s
`

// PythonExpertPrompt wraps a user question for the python_expert tool.
func PythonExpertPrompt(userInput string) string {
	return fmt.Sprintf(pythonExpertTemplate, PythonRefusal, userInput)
}
