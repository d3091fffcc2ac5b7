package models

// Usage represents token usage for a single model request.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add folds another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
