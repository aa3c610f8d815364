package domain

import (
	"fmt"
	"os"
	"time"
)

// Job represents a queued request as written by a producer into the
// incoming directory
type Job struct {
	Channel   string `json:"channel"`
	Sender    string `json:"sender"`
	SenderID  string `json:"senderId,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"messageId"`
}

// Response represents the processed result, paired to its Job by MessageID
type Response struct {
	Channel         string `json:"channel"`
	Sender          string `json:"sender"`
	OriginalMessage string `json:"originalMessage"`
	Message         string `json:"message"`
	Timestamp       int64  `json:"timestamp"`
	MessageID       string `json:"messageId"`
}

// NewMessageID builds a caller-assigned id that is unique among in-flight
// jobs by combining the current epoch millis with the producer's pid
func NewMessageID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), os.Getpid())
}
