package domain

// Export is one cataloged export artifact: the request that produced it and
// where the raw payload was saved.
type Export struct {
	ID             string   `json:"id"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	Format         string   `json:"format" enum:"json,csv"`
	StartTime      string   `json:"start_time"`
	EndTime        string   `json:"end_time"`
	OwnerID        string   `json:"owner_id,omitempty"`
	AssignedTo     string   `json:"assigned_to,omitempty"`
	Tags           string   `json:"tags,omitempty"`
	Statuses       []string `json:"statuses,omitempty"`
	Path           string   `json:"path"`
	Bytes          int64    `json:"bytes"`
	RecordCount    *int     `json:"record_count,omitempty"`
	HeaderMismatch bool     `json:"header_mismatch"`
}
