package builtin

const claudeAllowedTools = `--allowedTools='Bash(git add:*) Bash(git commit:*) Bash(taskflow agent report:*)'`

// claudePreset runs the Claude CLI non-interactively.
var claudePreset = preset{
	Command: `claude -p --permission-mode acceptEdits ` + claudeAllowedTools + ` "` + agentPrompt + `"`,
}
