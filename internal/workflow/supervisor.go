package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/models"
	"github.com/mohammad-safakhou/researchd/provider"
)

// Supervisor picks the step that follows from.
type Supervisor interface {
	Next(ctx context.Context, from Step, s State) Step
}

// LinearSupervisor routes start → research → synthesis → citation →
// compliance → report → end. A denied compliance review ends the run,
// and a recorded outcome is never reviewed again.
type LinearSupervisor struct{}

func (LinearSupervisor) Next(_ context.Context, from Step, s State) Step {
	switch from {
	case StepStart:
		return StepResearch
	case StepResearch:
		return StepSynthesis
	case StepSynthesis:
		return StepCitation
	case StepCitation:
		if s.Artifacts.Compliance == "" {
			return StepCompliance
		}
		return afterCompliance(s)
	case StepCompliance:
		return afterCompliance(s)
	default:
		return StepEnd
	}
}

func afterCompliance(s State) Step {
	if s.Artifacts.Compliance == ComplianceDenied {
		return StepEnd
	}
	return StepReport
}

const routerPrompt = `You are a supervisor managing the workers [research, synthesis, citation, compliance, report].
Given the user request and the conversation so far, reply with the single worker to act next.
1. If research is needed or missing, choose 'research'.
2. If research is done but no draft answer exists, choose 'synthesis'.
3. If a draft exists but is not verified, choose 'citation'.
4. If verified but not checked for compliance, choose 'compliance'.
5. If compliance is done, choose 'report'.
6. If everything is complete, choose 'FINISH'.
Reply with the label only.`

// ClassifierSupervisor asks the completion service for the next step.
// The answer is clamped to the known labels and checked against the
// state; anything unusable falls back to the linear order.
type ClassifierSupervisor struct {
	completer provider.Completer
	window    int
	fallback  LinearSupervisor
	logger    *zap.Logger
}

func NewClassifierSupervisor(c provider.Completer, window int, logger *zap.Logger) *ClassifierSupervisor {
	if window <= 0 {
		window = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassifierSupervisor{completer: c, window: window, logger: logger}
}

func (c *ClassifierSupervisor) Next(ctx context.Context, from Step, s State) Step {
	linear := c.fallback.Next(ctx, from, s)
	if from == StepStart || from == StepReport || c.completer == nil {
		return linear
	}
	if from == StepCompliance && s.Artifacts.Compliance == ComplianceDenied {
		return StepEnd
	}

	history := s.Messages
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	prompt := make([]models.ChatMessage, 0, len(history)+1)
	prompt = append(prompt, models.ChatMessage{Role: "system", Content: routerPrompt})
	for _, m := range history {
		prompt = append(prompt, models.ChatMessage{Role: m.Role, Content: m.Content})
	}

	reply, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("router unavailable, using linear order", zap.String("from", string(from)), zap.Error(err))
		return linear
	}
	label, ok := ParseLabel(reply)
	if !ok {
		c.logger.Warn("router returned unknown label", zap.String("reply", reply))
		return linear
	}
	if !ready(label, s) {
		c.logger.Warn("router label missing prerequisites", zap.String("label", string(label)))
		return linear
	}
	return label
}

// ParseLabel extracts the first known routing label from a reply. FINISH
// maps to end.
func ParseLabel(reply string) (Step, bool) {
	fields := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '_')
	})
	for _, f := range fields {
		switch Step(f) {
		case StepResearch, StepSynthesis, StepCitation, StepCompliance, StepReport:
			return Step(f), true
		}
		if f == "finish" {
			return StepEnd, true
		}
	}
	return "", false
}

// ready reports whether the state carries what step s depends on. Once
// compliance has an outcome only report and end remain reachable.
func ready(s Step, st State) bool {
	if outcome := st.Artifacts.Compliance; outcome != "" {
		switch s {
		case StepReport:
			return outcome == ComplianceApproved
		case StepEnd:
			return outcome == ComplianceDenied || st.Artifacts.ReportID != ""
		}
		return false
	}
	switch s {
	case StepResearch:
		return true
	case StepSynthesis:
		return researched(st)
	case StepCitation:
		return st.Artifacts.DraftAnswer != nil
	case StepCompliance:
		return st.Artifacts.DraftAnswer != nil && st.Artifacts.Verification != nil && st.Artifacts.Compliance == ""
	case StepReport, StepEnd:
		return st.Artifacts.Compliance != ""
	}
	return false
}

func researched(st State) bool {
	for _, m := range st.Messages {
		if m.Role == RoleAssistant && strings.HasPrefix(m.Content, researchDonePrefix) {
			return true
		}
	}
	return false
}
