package distributed

import (
	"encoding/json"
	"fmt"

	"github.com/studiowebux/swarm/internal/stats"
)

// MessageType identifies a master/worker message
type MessageType string

const (
	MsgClientReady      MessageType = "client_ready"
	MsgSpawn            MessageType = "spawn"
	MsgSpawningComplete MessageType = "spawning_complete"
	MsgStats            MessageType = "stats"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgStop             MessageType = "stop"
	MsgStopped          MessageType = "stopped"
	MsgQuit             MessageType = "quit"
	MsgException        MessageType = "exception"
)

// Message is the JSON envelope exchanged over the websocket
type Message struct {
	Type   MessageType     `json:"type"`
	NodeID string          `json:"node_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SpawnData tells a worker how many users to run
type SpawnData struct {
	UserCount int     `json:"user_count"`
	SpawnRate float64 `json:"spawn_rate"`
	Host      string  `json:"host"`
}

// StatsData carries a worker's stats delta since the previous report
type StatsData struct {
	Stats     stats.Snapshot `json:"stats"`
	UserCount int            `json:"user_count"`
}

// HeartbeatData reports a worker's liveness and state
type HeartbeatData struct {
	State     string `json:"state"`
	UserCount int    `json:"user_count"`
}

// ExceptionData reports an unexpected worker error
type ExceptionData struct {
	Msg       string `json:"msg"`
	Traceback string `json:"traceback"`
}

// NewMessage builds a message, encoding data when non-nil
func NewMessage(t MessageType, nodeID string, data interface{}) (Message, error) {
	msg := Message{Type: t, NodeID: nodeID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return msg, fmt.Errorf("failed to encode %s message: %w", t, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("invalid %s message: %w", m.Type, err)
	}
	return nil
}

// SplitUsers distributes total users over n workers; the first workers get
// the remainder
func SplitUsers(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = total / n
		if i < total%n {
			out[i]++
		}
	}
	return out
}
