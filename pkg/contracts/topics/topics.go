package topics

const (
	// Settlement
	SettlementLegs      = "settlement_legs"
	SettlementCompleted = "settlement_completed"
)
