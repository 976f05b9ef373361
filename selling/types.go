package selling

import "github.com/mjanicki/energy-core/model"

// Decision is the outcome tag for a selling cycle.
type Decision string

const (
	DecisionStart    Decision = "start"
	DecisionContinue Decision = "continue"
	DecisionStop     Decision = "stop"
	DecisionWait     Decision = "wait"
)

// RiskLevel is the ordinal risk classification of a selling decision.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SellDecision is the Selling Decision Engine's per-cycle output.
type SellDecision struct {
	Decision        Decision
	PowerW          float64
	ExpectedRevenue float64
	Reason          string
	Confidence      float64
	RiskLevel       RiskLevel

	// NextSession mirrors charging's NextSession: the selling session
	// state after this decision, nil meaning no active session.
	NextSession *model.SellingSession

	// SOCDropToRecord is the ledger delta the coordinator must persist
	// against today's daily SOC-drop budget, non-zero only on stop.
	SOCDropToRecord float64
}

func wait(reason string, confidence float64, risk RiskLevel, session *model.SellingSession) SellDecision {
	return SellDecision{Decision: DecisionWait, Reason: reason, Confidence: confidence, RiskLevel: risk, NextSession: session}
}
