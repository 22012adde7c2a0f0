package domain

type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type CleanupResult struct {
	Cleaned int  `json:"cleaned"`
	HasMore bool `json:"has_more"`
}

type BackfillResult struct {
	EnqueuedCount int      `json:"enqueued_count"`
	FailedCardIDs []string `json:"failed_card_ids"`
}

type LinkBackfillResult struct {
	EnqueuedCount int    `json:"enqueued_count"`
	HasMore       bool   `json:"has_more"`
	NextCursor    string `json:"next_cursor,omitempty"`
}

type StageCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

type IncompleteCard struct {
	CardID   string           `json:"card_id"`
	Type     CardType         `json:"type"`
	Reasons  []string         `json:"reasons"`
	Failures map[Stage]string `json:"failures,omitempty"`
}

type Overview struct {
	TotalCards          int                    `json:"total_cards"`
	Stages              map[Stage]StageCounts  `json:"stages"`
	MissingAI           int                    `json:"missing_ai"`
	MissingThumbnail    int                    `json:"missing_thumbnail"`
	MetadataStatus      map[MetadataStatus]int `json:"metadata_status"`
	IncompleteCards     []IncompleteCard       `json:"incomplete_cards"`
	IncompleteTruncated bool                   `json:"incomplete_truncated"`
}
