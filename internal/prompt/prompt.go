// Package prompt assembles the ordered message list sent to the
// completion provider.
//
// The assembled list is always: one system message first, then the loaded
// history with system turns filtered out, then the new user message last.
// The system message is the configured override prompt when present,
// otherwise a default generated from the report-context text, with a
// static fallback when no context is available.
//
// No length-based truncation happens here beyond the history loader's
// cap; an oversized prompt surfaces as a provider-side error.
package prompt

import (
	"fmt"

	"github.com/digilab/digibot/internal/assistant"
	"github.com/digilab/digibot/internal/provider"
	"github.com/digilab/digibot/internal/turn"
)

// FallbackSystemPrompt is used when no override prompt is configured and
// no report context accompanies the request.
const FallbackSystemPrompt = "You are DigiBot, a digital analysis assistant. " +
	"Answer questions about digital presence, online visibility, and web performance. " +
	"Be concise, concrete, and practical. If you are asked about a specific analysis " +
	"report and none is available, say so and answer in general terms."

// contextPromptFormat embeds the report-context text into the generated
// system prompt.
const contextPromptFormat = "You are DigiBot, a digital analysis assistant. " +
	"You are discussing the following analysis report with the company it belongs to. " +
	"Ground every answer in the report data below; be concise, concrete, and practical.\n\n" +
	"%s"

// SystemPrompt returns the system message content for an exchange.
// An override prompt is used verbatim; otherwise the prompt is generated
// from the report context, falling back to the static default when the
// context is empty.
func SystemPrompt(cfg assistant.Config, reportContext string) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	if reportContext != "" {
		return fmt.Sprintf(contextPromptFormat, reportContext)
	}
	return FallbackSystemPrompt
}

// BuildMessages assembles the provider message list:
// system message, history (system turns removed), new user message.
func BuildMessages(cfg assistant.Config, reportContext string, history []turn.Turn, userMessage string) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)

	messages = append(messages, provider.Message{
		Role:    turn.RoleSystem,
		Content: SystemPrompt(cfg, reportContext),
	})

	for _, t := range history {
		if t.Role == turn.RoleSystem {
			continue
		}
		messages = append(messages, provider.Message{Role: t.Role, Content: t.Content})
	}

	messages = append(messages, provider.Message{
		Role:    turn.RoleUser,
		Content: userMessage,
	})

	return messages
}
