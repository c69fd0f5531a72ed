package bank

import (
	"context"
	"encoding/json"
	"time"
)

// Transaction is a normalized statement movement.
type Transaction struct {
	MovementID string    `json:"movement_id"`
	BookedAt   time.Time `json:"booked_at"`
	// Amount is in minor currency units; debits are negative.
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	ReferenceCode *string `json:"reference_code,omitempty"`
	Message       *string `json:"message,omitempty"`
}

// StatementInfo carries the account header returned with each statement.
type StatementInfo struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	// IDFrom and IDTo bound the movements in this statement, when any were returned.
	IDFrom *int64 `json:"id_from,omitempty"`
	IDTo   *int64 `json:"id_to,omitempty"`
	// IDLastDownload is the cursor position before this statement was read.
	IDLastDownload *int64 `json:"id_last_download,omitempty"`
}

// Statement is the result of one fetch.
type Statement struct {
	Info StatementInfo
	// RawCount is the number of raw records before normalization dropped any.
	RawCount     int
	Transactions []Transaction
}

// StatementClient reads bank statements. Implementations never retry; a failed
// fetch is surfaced to the caller and retried by the next scheduled run.
type StatementClient interface {
	// Range returns movements booked within [from, to] (whole days).
	Range(ctx context.Context, from, to time.Time) (*Statement, error)
	// Last returns movements since the last acknowledged cursor position.
	Last(ctx context.Context) (*Statement, error)
	// SetLastID moves the read cursor so the next Last starts after id.
	SetLastID(ctx context.Context, id int64) error
}

// rawColumn is one "columnN" cell of the upstream format. Cells may be null.
type rawColumn struct {
	Value json.RawMessage `json:"value"`
	Name  string          `json:"name"`
	ID    int             `json:"id"`
}

type rawTransaction map[string]*rawColumn

type rawInfo struct {
	AccountID      string `json:"accountId"`
	Currency       string `json:"currency"`
	IDFrom         *int64 `json:"idFrom"`
	IDTo           *int64 `json:"idTo"`
	IDLastDownload *int64 `json:"idLastDownload"`
}

type rawStatement struct {
	AccountStatement struct {
		Info            rawInfo `json:"info"`
		TransactionList *struct {
			Transaction []rawTransaction `json:"transaction"`
		} `json:"transactionList"`
	} `json:"accountStatement"`
}
