package model

type QueueEntryState struct {
	Name          string `json:"name"`
	BuyGoal       int    `json:"buyGoal"`
	AlreadyBought int    `json:"alreadyBought"`
}

type EngineState struct {
	Running     bool              `json:"running"`
	RunID       string            `json:"runId,omitempty"`
	StartedAtMs int64             `json:"startedAtMs,omitempty"`
	Attempts    int               `json:"attempts"`
	Purchases   int               `json:"purchases"`
	LastOutcome string            `json:"lastOutcome,omitempty"`
	Queue       []QueueEntryState `json:"queue"`
}
