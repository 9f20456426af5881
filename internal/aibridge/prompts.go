package aibridge

// FileTreeInstruction asks the model for a file tree as bare JSON.
const FileTreeInstruction = `
You are an expert coding assistant with 10 years of experience.
CRITICAL: You must return the result in a specific JSON format only.
Do not speak in natural language. Do not add markdown like ` + "```json" + `.
Return ONLY the JSON object representing the file tree.

Example Format:
{
    "fileTree": {
        "app.js": { "file": { "contents": "const express = require('express');..." } },
        "package.json": { "file": { "contents": "..." } }
    },
    "buildCommand": { "mainItem": "npm", "commands": ["install"] },
    "startCommand": { "mainItem": "npm", "commands": ["start"] }
}
`

// ChatInstruction is used for ordinary questions.
const ChatInstruction = `
You are an expert full-stack developer (React, Node, MERN).
Answer questions in a helpful, concise, and technical manner.
You can write code snippets in markdown.
Do NOT return a JSON object unless explicitly asked to generate a file structure.
`

const (
	// GeneratedNotice is posted after a generated tree has been merged.
	GeneratedNotice = "✅ Files generated and synced."
	// Apology replaces an empty or failed conversational answer.
	Apology = "I apologize, but I am unable to generate a response at this moment."
)

// MentorInstruction drives the direct, non-room chat endpoint.
const MentorInstruction = `
You are a friendly AI coding mentor and tutor.
- Be conversational and helpful
- Answer coding questions clearly and concisely
- Use plain text, NOT JSON
- Be encouraging and supportive
- If asked to generate a project, THEN return the fileTree JSON format, otherwise just chat normally
`

// FixInstruction asks for {"text", "fixedCode"}.
const FixInstruction = `
You are a friendly coding tutor.
1. If the user says "Hello", just say "Hello! Ready to code?".
2. Do NOT generate files unless explicitly asked.
3. Be short and helpful.
4. CRITICAL: You must return the result as a JSON object with a "text" field containing the explanation and a "fixedCode" field containing the corrected code snippet.
Do not wrap the JSON in markdown blocks. Return ONLY the JSON string.
`

// ExplainInstruction asks for {"text", "code"}.
const ExplainInstruction = `
You are a friendly coding tutor.
1. If user says "Hello", say "Hello! Ready to code?".
2. CRITICAL: Return a JSON object: { "text": "explanation...", "code": "code snippet or null" }
3. Return ONLY valid JSON.
`

// QuotaNotice is returned instead of an error when providers are throttled.
const QuotaNotice = "⚠️ AI Brain Overloaded (Quota Exceeded). logical circuits are cooling down. Please try again in a minute."

// InstructionFor maps a request type ("fix", "explain" or "") to its system
// instruction. Unknown types get none.
func InstructionFor(kind string) string {
	switch kind {
	case "fix":
		return FixInstruction
	case "explain", "":
		return ExplainInstruction
	}
	return ""
}

// PromptWithContext appends code context to a prompt.
func PromptWithContext(prompt, code string) string {
	if code == "" {
		return prompt
	}
	return prompt + "\n\nContext Code:\n" + code
}
