package transport

import "context"

// Message is one published event.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the abstract pub/sub channel the core publishes through. Adapters
// (websocket hub, MQTT bridge) fan messages out to actual devices.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Topic names shared by the server, the dashboard, and handheld clients.
const (
	TopicAuth         = "quiz/auth"
	TopicQuestion     = "quiz/question"
	TopicQuestionKey  = "quiz/question/key" // dashboard only: correct option ids
	TopicQuestionDone = "quiz/question/closed"
	TopicDistribution = "quiz/answers/distribution"
	TopicSessionStart = "quiz/session/start"
	TopicSessionEnd   = "quiz/end"
	TopicReset        = "quiz/reset"
	TopicClientCount  = "system/client_count"
	TopicTimeSync     = "system/time/sync"

	// Inbound topics used by the MQTT bridge.
	TopicJoin     = "quiz/session/join"
	TopicResponse = "quiz/response"
)

// PlayerScoreTopic returns the per-player score topic.
func PlayerScoreTopic(playerID string) string {
	return "quiz/player/" + playerID + "/score"
}

// ClientInfoTopic returns the per-client connection info topic.
func ClientInfoTopic(clientID string) string {
	return "system/client/" + clientID + "/info"
}
