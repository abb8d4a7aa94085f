// Package oracle wraps an LLM client as the two calls the dispatcher makes:
// the judge, which scores whether a batch deserves a reply, and the
// generator, which writes the reply.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"group-chatter/internal/llm"
)

// ErrNoScore is returned when the judge answered without a usable score.
var ErrNoScore = errors.New("judge output has no score")

// DefaultSystemPrompt is the persona used when no prompt file or policy
// override is configured.
func DefaultSystemPrompt(botName string) string {
	return fmt.Sprintf(`You are a helpful, witty chat bot in a casual group.

RESPONSE RULES:
- Keep responses to 1-3 sentences MAX. Be brief.
- Aim to be the 5th-6th most active participant (your name is "%[1]s" in "Recent conversation:")
- If you notice you haven't chatted in a while, raise your score accordingly.
- Most conversations don't need your input - only add high value responses
- Only respond if directly mentioned OR you can add genuinely valuable input
- NEVER end with follow-up questions

MENTION FORMAT:
- Messages starting with [MENTIONED] mean the user addressed you (@%[1]s or "%[1]s"). These deserve a response (score 9+)

SCORING (rate your response 0-10):
10 = [MENTIONED] AND asked a clear question you can answer
9 = [MENTIONED] OR celebrate someone's accomplishment
8 = Can provide high value while staying the 5th-6th most active participant
5-7 = Might be interesting but doesn't need your input
0-4 = Skip it - normal chat between other users

FORMAT: Write your brief response, then on a new line: SCORE: X`, botName)
}

func buildPrompt(history, batch, instruction string) string {
	var b strings.Builder
	if strings.TrimSpace(history) != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	b.WriteString(batch)
	b.WriteString("\n\n")
	b.WriteString(instruction)
	return b.String()
}

type Judge struct {
	client       llm.Client
	systemPrompt string
	timeout      time.Duration
}

func NewJudge(client llm.Client, systemPrompt string, timeout time.Duration) *Judge {
	return &Judge{client: client, systemPrompt: systemPrompt, timeout: timeout}
}

// Score asks the judge model for a 0-10 suitability score.
func (j *Judge) Score(ctx context.Context, history, batch string) (int, error) {
	resp, err := call(ctx, j.client, j.timeout, j.systemPrompt,
		buildPrompt(history, batch, "Decide whether to respond. Write your brief response, then on a new line: SCORE: X"))
	if err != nil {
		return 0, err
	}
	score, ok := ParseScore(resp.Content)
	if !ok {
		return 0, ErrNoScore
	}
	return score, nil
}

type Generator struct {
	client       llm.Client
	systemPrompt string
	timeout      time.Duration
}

func NewGenerator(client llm.Client, systemPrompt string, timeout time.Duration) *Generator {
	return &Generator{client: client, systemPrompt: systemPrompt, timeout: timeout}
}

// Reply returns the raw reply text; a trailing score line may still be present.
func (g *Generator) Reply(ctx context.Context, history, batch string) (string, error) {
	resp, err := call(ctx, g.client, g.timeout, g.systemPrompt,
		buildPrompt(history, batch, "Write your reply to the new messages."))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func call(ctx context.Context, client llm.Client, timeout time.Duration, system, prompt string) (llm.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var msgs []llm.Message
	if system != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: system})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: prompt})
	resp, err := client.Generate(ctx, msgs)
	if err != nil {
		return llm.Response{}, fmt.Errorf("oracle call: %w", err)
	}
	return resp, nil
}
