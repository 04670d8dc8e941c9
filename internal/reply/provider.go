// Package reply drafts answers to incoming messages through a configurable
// chain of AI providers, falling back in strict order until one succeeds.
package reply

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted in tenant settings.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
	ProviderClaude   = "claude"
)

// Every provider call is bounded even when no client override is supplied.
const defaultHTTPTimeout = 30 * time.Second

// Request carries everything a provider needs to draft one reply.
type Request struct {
	FromAddress string
	Subject     string
	Body        string
	Tone        string
	Model       string
	MaxTokens   int
}

// Draft is one provider completion. TokensUsed is zero when the provider
// reports no usage.
type Draft struct {
	Body       string
	TokensUsed int
}

// Provider drafts a reply body for one message.
type Provider interface {
	Name() string
	Draft(ctx context.Context, req Request) (Draft, error)
}

func systemPrompt(tone string) string {
	var sb strings.Builder
	sb.WriteString("You are an email support assistant. ")
	sb.WriteString("Draft a complete reply to the customer's email below. ")
	sb.WriteString("Answer only with the reply body, no subject line and no commentary. ")
	if tone != "" {
		sb.WriteString(fmt.Sprintf("Write in a %s tone. ", tone))
	}
	sb.WriteString("Do not invent order numbers, prices or policies.")
	return sb.String()
}

func userPrompt(req Request) string {
	var sb strings.Builder
	if req.FromAddress != "" {
		sb.WriteString(fmt.Sprintf("From: %s\n", req.FromAddress))
	}
	if req.Subject != "" {
		sb.WriteString(fmt.Sprintf("Subject: %s\n", req.Subject))
	}
	sb.WriteString("\n")
	sb.WriteString(req.Body)
	return sb.String()
}
