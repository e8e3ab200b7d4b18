package hub

// Outbound event names.
const (
	EventSystem        = "system"
	EventResponse      = "response"
	EventBattleState   = "battle_state_update"
	EventQuestUpdate   = "quest_update"
	EventAudioInit     = "audio_init"
	EventAudioChunk    = "audio_chunk"
	EventPlayerSpeech  = "player_speech"
	EventLifecycle     = "lifecycle_event"
	EventGameState     = "game_state"
	EventHistory       = "history"
	EventSearchResults = "search_results"
)

// SystemData is the payload of a system event.
type SystemData struct {
	Message string `json:"message"`
	IsError bool   `json:"isError"`
	Error   bool   `json:"error,omitempty"`
}

// ResponseData answers a text command.
type ResponseData struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

// AudioInitData tells clients how to interpret audio chunks.
type AudioInitData struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bitDepth"`
}

// AudioChunkData carries one WAV-encoded chunk of synthesised speech.
type AudioChunkData struct {
	Audio    string `json:"audio"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
}

// TextData carries recognised speech.
type TextData struct {
	Text string `json:"text"`
}

// LifecycleData carries a voice turn marker.
type LifecycleData struct {
	Event string `json:"event"`
}

// System builds an informational system message.
func System(msg string) Message {
	return Message{Event: EventSystem, Data: SystemData{Message: msg}}
}

// SystemError builds an error system message as sent by background tasks.
func SystemError(msg string) Message {
	return Message{Event: EventSystem, Data: SystemData{Message: msg, IsError: true}}
}

// Failure builds the error reply for a failed client request.
func Failure(msg string) Message {
	return Message{Event: EventSystem, Data: SystemData{Message: msg, IsError: true, Error: true}}
}

// Response builds a text command reply.
func Response(msg string, isErr bool) Message {
	return Message{Event: EventResponse, Data: ResponseData{Message: msg, Error: isErr}}
}
