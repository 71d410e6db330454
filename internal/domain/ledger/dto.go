package ledger

// DebitRequest is the body of POST /api/balance.
// Action and Steps are optional; when present the amount is checked against the action's cost.
type DebitRequest struct {
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Action         string `json:"action,omitempty"`
	Steps          int    `json:"steps,omitempty" validate:"gte=0"`
	IdempotencyKey string `json:"idempotencyKey,omitempty" validate:"max=200"`
}

// BalanceRow is one element of the GET /api/balance array
type BalanceRow struct {
	Balance int64 `json:"balance"`
}

// DebitResponse is the success body of POST /api/balance
type DebitResponse struct {
	Success bool  `json:"success"`
	Balance int64 `json:"balance"`
}

// EntryResponse is a ledger entry as exposed in history
type EntryResponse struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Type         string `json:"type"`
	Source       string `json:"source"`
	Action       string `json:"action,omitempty"`
	Description  string `json:"description,omitempty"`
	ReferenceID  string `json:"reference_id,omitempty"`
	BalanceAfter int64  `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

func EntryResponseFromEntity(e *Entry) EntryResponse {
	resp := EntryResponse{
		ID:           e.ID.String(),
		Amount:       e.Amount,
		Type:         string(e.Type),
		Source:       string(e.Source),
		Description:  e.Description,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.Action != nil {
		resp.Action = *e.Action
	}
	if e.ReferenceID != nil {
		resp.ReferenceID = *e.ReferenceID
	}
	return resp
}
