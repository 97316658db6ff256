package ledger

// Envelopes JSON do serviço de carteiras custodiais.
// Valores monetários trafegam sempre como string decimal.

type balancesResponse struct {
	Data struct {
		TokenBalances []tokenBalance `json:"tokenBalances"`
	} `json:"data"`
}

type tokenBalance struct {
	Token struct {
		ID string `json:"id"`
	} `json:"token"`
	Amount string `json:"amount"`
}

type transactionsResponse struct {
	Data struct {
		Transactions []Transaction `json:"transactions"`
	} `json:"data"`
}

type transferBody struct {
	IdempotencyKey         string   `json:"idempotencyKey"`
	EntitySecretCipherText string   `json:"entitySecretCipherText"`
	Amounts                []string `json:"amounts"`
	DestinationAddress     string   `json:"destinationAddress"`
	FeeLevel               string   `json:"feeLevel"`
	TokenID                string   `json:"tokenId"`
	WalletID               string   `json:"walletId"`
}

type transferResponse struct {
	Data struct {
		ID    string `json:"id"`
		State string `json:"state,omitempty"`
	} `json:"data"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
