package builtin

// opencodePreset runs the OpenCode CLI non-interactively.
var opencodePreset = preset{
	Command: `opencode run "` + agentPrompt + `"`,
}
