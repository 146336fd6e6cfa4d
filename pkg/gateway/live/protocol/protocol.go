// Package protocol defines the browser-facing WebSocket message vocabulary
// of the realtime bridge: JSON text frames in both directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message type strings accepted from the browser.
const (
	TypeSessionStart = "input_audio_session.start"
	TypeAudioAppend  = "input_audio_buffer.append"
	TypeSessionEnd   = "input_audio_session.end"
)

// Message type strings sent to the browser.
const (
	TypeAudioDelta       = "response.audio.delta"
	TypeAudioClear       = "response.audio.clear"
	TypeUserTranscript   = "conversation.item.input_audio_transcription.completed"
	TypeAgentTranscript  = "response.audio_transcript.done"
	TypeCallEnd          = "call.end"
	TypeScoringCompleted = "conversation.scoring.completed"
	TypeError            = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientSessionStart must be the first browser message of a session.
type ClientSessionStart struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
	StageID  string `json:"stage_id"`
}

// ClientAudioAppend carries one base64 PCM16 frame from the microphone.
type ClientAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ClientSessionEnd asks the bridge to stop the session.
type ClientSessionEnd struct {
	Type string `json:"type"`
}

// ServerAudioDelta repackages one assistant audio chunk.
type ServerAudioDelta struct {
	Type   string `json:"type"`
	Delta  string `json:"delta"`
	ItemID string `json:"item_id,omitempty"`
}

// ServerAudioClear tells the client to flush buffered assistant audio.
type ServerAudioClear struct {
	Type string `json:"type"`
}

// ServerUserTranscript carries the final transcript of a user utterance.
type ServerUserTranscript struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// ServerAgentTranscript carries the final transcript of an assistant
// utterance.
type ServerAgentTranscript struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// ServerCallEnd signals that the upstream provider ended the call.
type ServerCallEnd struct {
	Type string `json:"type"`
}

// ServerScoringCompleted signals that post-call scoring finished.
type ServerScoringCompleted struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeClientMessage parses one browser text frame into its typed message.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSessionStart:
		var msg ClientSessionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session start frame", "")
		}
		if strings.TrimSpace(msg.UserID) == "" {
			return nil, badRequest("user_id is required", "user_id")
		}
		if strings.TrimSpace(msg.CourseID) == "" {
			return nil, badRequest("course_id is required", "course_id")
		}
		if strings.TrimSpace(msg.StageID) == "" {
			return nil, badRequest("stage_id is required", "stage_id")
		}
		return msg, nil
	case TypeAudioAppend:
		var msg ClientAudioAppend
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio append frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio is required", "audio")
		}
		return msg, nil
	case TypeSessionEnd:
		var msg ClientSessionEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session end frame", "")
		}
		return msg, nil
	default:
		return nil, &DecodeError{Code: "unsupported", Message: "unknown message type", Param: "type"}
	}
}
