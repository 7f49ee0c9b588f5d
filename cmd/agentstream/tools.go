package main

import (
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/tool"
)

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone such as Europe/Berlin; defaults to UTC"`
}

type wordCountArgs struct {
	Text string `json:"text" validate:"required" jsonschema:"description=Text to count"`
}

func builtinTools() []tool.Tool {
	return []tool.Tool{
		tool.NewStateManagerTool(),
		tool.NewTypedTool("current_time", "Return the current date and time", currentTime),
		tool.NewTypedTool("word_count", "Count the words and characters of a text", wordCount),
	}
}

func currentTime(_ *core.ToolContext, args currentTimeArgs) (any, error) {
	loc := time.UTC
	if args.Timezone != "" {
		l, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return nil, tool.NewToolError("current_time", "unknown timezone "+args.Timezone, "INVALID_TIMEZONE")
		}
		loc = l
	}
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	}, nil
}

func wordCount(_ *core.ToolContext, args wordCountArgs) (any, error) {
	return map[string]any{
		"words":      len(strings.Fields(args.Text)),
		"characters": len([]rune(args.Text)),
	}, nil
}
