package events

// Pernas de uma liquidação
const (
	LegSweep  = "sweep"
	LegPayout = "payout"
)

// SettlementLeg é publicado para cada transferência tentada (sucesso ou falha).
// Amount trafega como string decimal; Project é o projeto varrido ou o vencedor de origem.
type SettlementLeg struct {
	RunID         string `json:"run_id"`
	Leg           string `json:"leg"`
	Project       string `json:"project,omitempty"`
	FromWalletID  string `json:"from_wallet_id"`
	Destination   string `json:"destination_address"`
	Amount        string `json:"amount"`
	TransferID    string `json:"transfer_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}

// SettlementCompleted resume uma execução completa
type SettlementCompleted struct {
	RunID         string   `json:"run_id"`
	Policy        string   `json:"policy"`
	Pool          string   `json:"pool"`
	Winners       []string `json:"winners"`
	SweepsOK      int      `json:"sweeps_ok"`
	SweepsFailed  int      `json:"sweeps_failed"`
	PayoutsOK     int      `json:"payouts_ok"`
	PayoutsFailed int      `json:"payouts_failed"`
	PartialSweep  bool     `json:"partial_sweep"`
	TsUnixMs      int64    `json:"ts_unix_ms"`
}
