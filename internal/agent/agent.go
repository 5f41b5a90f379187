package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/ava/internal/brain"
	"github.com/ent0n29/ava/internal/memory"
)

const (
	DefaultMaxSteps = 4
	maxObservation  = 4000
)

var (
	finalAnswerRe = regexp.MustCompile(`(?s)Final Answer:\s*(.*)$`)
	actionRe      = regexp.MustCompile(`(?m)^\s*Action:\s*(.+?)\s*$`)
	actionInputRe = regexp.MustCompile(`(?s)Action Input:\s*(.*)$`)
)

// ToolAgent lets the model call tools before answering. It satisfies brain.Completer so
// callers see a single reply per turn.
type ToolAgent struct {
	next     brain.Completer
	tools    []Tool
	byName   map[string]Tool
	maxSteps int
	logger   *zap.Logger
}

func New(next brain.Completer, tools []Tool, maxSteps int, logger *zap.Logger) *ToolAgent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[strings.ToLower(t.Name)] = t
	}
	return &ToolAgent{
		next:     next,
		tools:    tools,
		byName:   byName,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

func (a *ToolAgent) Name() string { return "agent+" + brain.ProviderName(a.next) }

func (a *ToolAgent) Complete(ctx context.Context, messages []memory.Message) (string, error) {
	msgs := make([]memory.Message, 0, len(messages)+2*a.maxSteps+2)
	msgs = append(msgs, memory.Message{Role: memory.RoleSystem, Content: a.systemPrompt()})
	msgs = append(msgs, messages...)

	for step := 0; step < a.maxSteps; step++ {
		reply, err := a.next.Complete(ctx, msgs)
		if err != nil {
			return "", err
		}

		name, input, ok := parseAction(reply)
		if !ok {
			return finalAnswer(reply), nil
		}

		observation := a.runTool(ctx, name, input)
		a.logger.Debug("tool step",
			zap.Int("step", step+1),
			zap.String("tool", name),
			zap.Int("observation_len", len(observation)),
		)
		msgs = append(msgs,
			memory.AssistantMessage(strings.TrimSpace(truncateAtObservation(reply))),
			memory.UserMessage("Observation: "+observation),
		)
	}

	msgs = append(msgs, memory.UserMessage("Stop using tools now and reply with your Final Answer."))
	reply, err := a.next.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	return finalAnswer(reply), nil
}

func (a *ToolAgent) runTool(ctx context.Context, name, rawInput string) string {
	tool, ok := a.byName[strings.ToLower(name)]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s", name, a.toolNames())
	}
	input, err := tool.normalizeInput(rawInput)
	if err != nil {
		return "Error: " + err.Error()
	}
	out, err := tool.Call(ctx, input)
	if err != nil {
		a.logger.Warn("tool call failed", zap.String("tool", tool.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	if r := []rune(out); len(r) > maxObservation {
		out = string(r[:maxObservation])
	}
	return out
}

func (a *ToolAgent) toolNames() string {
	names := make([]string, 0, len(a.tools))
	for _, t := range a.tools {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

func (a *ToolAgent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are AVA, a helpful personal assistant. You can use these tools:\n\n")
	for _, t := range a.tools {
		fmt.Fprintf(&b, "- %s: %s Input schema: %s\n", t.Name, t.Description, t.schemaJSON())
	}
	b.WriteString("\nTo use a tool, reply with exactly:\n")
	b.WriteString("Action: <tool name>\nAction Input: <JSON input>\n\n")
	b.WriteString("You will receive an Observation with the result. When you can answer, reply with:\n")
	b.WriteString("Final Answer: <your answer>\n")
	return b.String()
}

// parseAction extracts a tool call. A reply that carries a Final Answer is never an action.
func parseAction(reply string) (name, input string, ok bool) {
	if finalAnswerRe.MatchString(reply) {
		return "", "", false
	}
	m := actionRe.FindStringSubmatch(reply)
	if m == nil {
		return "", "", false
	}
	name = strings.Trim(m[1], "`\"' ")
	if strings.EqualFold(name, "final answer") {
		return "", "", false
	}
	if in := actionInputRe.FindStringSubmatch(truncateAtObservation(reply)); in != nil {
		input = strings.TrimSpace(in[1])
	}
	return name, input, true
}

func finalAnswer(reply string) string {
	if m := finalAnswerRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(reply)
}

// truncateAtObservation drops any observation the model invented itself.
func truncateAtObservation(reply string) string {
	if i := strings.Index(reply, "\nObservation:"); i >= 0 {
		return reply[:i]
	}
	return reply
}
