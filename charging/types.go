package charging

import (
	"github.com/mjanicki/energy-core/model"
)

// ChargeDecision is the Charging Decision Engine's per-cycle output. It is
// pure with respect to its inputs: NextSession carries every state mutation
// the coordinator must persist, instead of the engine mutating shared
// state directly.
type ChargeDecision struct {
	ShouldCharge bool
	TargetSOC    float64
	Reason       string
	Priority     model.Priority
	Confidence   float64

	// NextSession is the charging session state after this decision. nil
	// means "no active charging session"; the coordinator stores it
	// verbatim and passes it back in on the next tick.
	NextSession *model.ChargingSession

	// PartialSessionRecorded is true when this decision consumed one slot
	// of the daily partial-charging-session budget.
	PartialSessionRecorded bool
}

func wait(reason string, priority model.Priority, confidence float64, session *model.ChargingSession) ChargeDecision {
	return ChargeDecision{
		ShouldCharge: false,
		Reason:       reason,
		Priority:     priority,
		Confidence:   confidence,
		NextSession:  session,
	}
}

func charge(targetSOC float64, reason string, priority model.Priority, confidence float64, session *model.ChargingSession) ChargeDecision {
	return ChargeDecision{
		ShouldCharge: true,
		TargetSOC:    targetSOC,
		Reason:       reason,
		Priority:     priority,
		Confidence:   confidence,
		NextSession:  session,
	}
}
