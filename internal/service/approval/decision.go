package approval

import (
	"fmt"
	"strings"

	"github.com/ifuryst/riposte/internal/models"
)

type DecisionKind string

const (
	KindApproveA DecisionKind = "approve_a"
	KindApproveB DecisionKind = "approve_b"
	KindEdit     DecisionKind = "edit"
	KindSkip     DecisionKind = "skip"
)

// Decision is what the approver chose for a draft. Text is only meaningful for KindEdit.
type Decision struct {
	Kind   DecisionKind
	Text   string
	Source string
}

func ApproveA() Decision { return Decision{Kind: KindApproveA} }

func ApproveB() Decision { return Decision{Kind: KindApproveB} }

func Edit(text string) Decision { return Decision{Kind: KindEdit, Text: text} }

func Skip() Decision { return Decision{Kind: KindSkip} }

// From tags the decision with where it arrived from (telegram, api).
func (d Decision) From(source string) Decision {
	d.Source = source
	return d
}

// ParseDecision builds a decision from its wire name.
func ParseDecision(kind, text string) (Decision, error) {
	d := Decision{Kind: DecisionKind(strings.ToLower(strings.TrimSpace(kind))), Text: text}
	if _, err := d.Next(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Next is the status a pending draft moves to when this decision is applied.
func (d Decision) Next() (models.DraftStatus, error) {
	switch d.Kind {
	case KindApproveA:
		return models.DraftApprovedA, nil
	case KindApproveB:
		return models.DraftApprovedB, nil
	case KindEdit:
		if strings.TrimSpace(d.Text) == "" {
			return "", fmt.Errorf("%w: edit needs replacement text", ErrInvalidDecision)
		}
		return models.DraftEdited, nil
	case KindSkip:
		return models.DraftSkipped, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDecision, d.Kind)
	}
}
