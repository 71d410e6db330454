package billing

// ListEventsQuery is read from the query string of GET /api/admin/webhook-events
type ListEventsQuery struct {
	Status string `json:"status" validate:"webhook_status"`
	Limit  int    `json:"limit" validate:"gte=0,lte=200"`
	Offset int    `json:"offset" validate:"gte=0"`
}
