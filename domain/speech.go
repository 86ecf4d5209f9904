package domain

import "context"

type SpeechSettings struct {
	VoiceID   string  `json:"voiceId"`
	Pitch     float64 `json:"pitch"`
	Rate      float64 `json:"rate"`
	AutoSpeak bool    `json:"autoSpeak"`
	AutoSend  bool    `json:"autoSend"`
}

func DefaultSpeechSettings() SpeechSettings {
	return SpeechSettings{
		Pitch:     1.6,
		Rate:      1.1,
		AutoSpeak: true,
		AutoSend:  true,
	}
}

// Normalize clamps pitch to [0, 2] and rate to [0.5, 2].
func (s SpeechSettings) Normalize() SpeechSettings {
	s.Pitch = clamp(s.Pitch, 0, 2)
	s.Rate = clamp(s.Rate, 0.5, 2)
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// SpeechRecognizer turns a stream of LINEAR16 audio chunks into transcripts.
// It returns once audio is closed, the recognizer ends the utterance, or ctx is done.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio <-chan []byte, onResult func(Transcript)) error
}

// SpeechSynthesizer renders text as encoded audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, settings SpeechSettings) ([]byte, error)
}
