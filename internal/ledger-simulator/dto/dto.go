package dto

import "github.com/radieske/prize-settlement/internal/settlement/ledger"

// ==== API custodial (mesmo formato do serviço real)

type TokenBalance struct {
	Token  Token  `json:"token"`
	Amount string `json:"amount"`
}

type Token struct {
	ID string `json:"id"`
}

type BalancesResponse struct {
	Data struct {
		TokenBalances []TokenBalance `json:"tokenBalances"`
	} `json:"data"`
}

type TransactionsResponse struct {
	Data struct {
		Transactions []ledger.Transaction `json:"transactions"`
	} `json:"data"`
}

type TransferRequest struct {
	IdempotencyKey         string   `json:"idempotencyKey"`
	EntitySecretCipherText string   `json:"entitySecretCipherText"`
	Amounts                []string `json:"amounts"`
	DestinationAddress     string   `json:"destinationAddress"`
	FeeLevel               string   `json:"feeLevel"`
	TokenID                string   `json:"tokenId"`
	WalletID               string   `json:"walletId"`
}

type TransferResponse struct {
	Data struct {
		ID    string `json:"id"`
		State string `json:"state"`
	} `json:"data"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ==== Endpoints exclusivos do simulador (/sim)

type CreateWalletRequest struct {
	WalletID string `json:"walletId"`
	Address  string `json:"address"`
}

type DepositRequest struct {
	SourceAddress string   `json:"sourceAddress"`
	WalletID      string   `json:"walletId"`
	TokenID       string   `json:"tokenId"`
	Amounts       []string `json:"amounts"`
}

type DepositResponse struct {
	TransactionID string `json:"transactionId"`
}
