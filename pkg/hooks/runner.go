// Package hooks provides the runtime shared by hookmill's hook binaries:
// stdin envelope parsing, host response output, and the worker client.
package hooks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// BaseInput carries the fields common to every lifecycle event envelope.
// Hook-specific inputs embed it and add their own fields.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
}

// HookContext is handed to every hook handler.
type HookContext struct {
	SessionID      string
	TranscriptPath string
	CWD            string
	Project        string
	Port           int
	RawInput       []byte
}

// hookResponse is the JSON shape the host reads from stdout.
type hookResponse struct {
	HookSpecificOutput *hookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

type hookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// RunHook reads the lifecycle envelope from stdin, runs handler, and
// writes any returned context back to the host. Hooks are advisory:
// failures are logged to stderr and the process still exits zero, because
// a hook error must never abort the host's lifecycle event.
func RunHook[T any](name string, handler func(*HookContext, *T) (string, error)) {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] failed to read input: %v\n", name, err)
		return
	}

	var base BaseInput
	if err := json.Unmarshal(raw, &base); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] failed to parse input: %v\n", name, err)
		return
	}

	input := new(T)
	if err := json.Unmarshal(raw, input); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] failed to parse input: %v\n", name, err)
		return
	}

	ctx := &HookContext{
		SessionID:      base.SessionID,
		TranscriptPath: base.TranscriptPath,
		CWD:            base.CWD,
		Project:        filepath.Base(base.CWD),
		Port:           GetWorkerPort(),
		RawInput:       raw,
	}

	additionalContext, err := handler(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", name, err)
	}
	if additionalContext == "" {
		return
	}

	resp := hookResponse{
		HookSpecificOutput: &hookSpecificOutput{
			HookEventName:     name,
			AdditionalContext: additionalContext,
		},
	}
	out, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] failed to encode response: %v\n", name, err)
		return
	}
	fmt.Println(string(out))
}
