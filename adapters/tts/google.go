package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/satriahrh/persona-chat/domain"
)

const DefaultLanguage = "en-US"

type GoogleTTS struct {
	client   *texttospeech.Client
	language string
}

func NewGoogleTTS(ctx context.Context, language string) (*GoogleTTS, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Google tts client: %w", err)
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &GoogleTTS{
		client:   client,
		language: language,
	}, nil
}

// Synthesize implements domain.SpeechSynthesizer and returns MP3 audio.
func (g *GoogleTTS) Synthesize(ctx context.Context, text string, settings domain.SpeechSettings) ([]byte, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, synthesizeRequest(text, g.language, settings))
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}

	return resp.GetAudioContent(), nil
}

func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

func synthesizeRequest(text, language string, settings domain.SpeechSettings) *texttospeechpb.SynthesizeSpeechRequest {
	settings = settings.Normalize()
	voice := &texttospeechpb.VoiceSelectionParams{
		LanguageCode: language,
		SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
	}
	if settings.VoiceID != "" {
		voice.Name = settings.VoiceID
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{
				Text: text,
			},
		},
		Voice: voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  settings.Rate,
			Pitch:         semitones(settings.Pitch),
		},
	}
}

// semitones maps the 0..2 pitch multiplier (1 is neutral) onto the API's
// -20..20 semitone range.
func semitones(pitch float64) float64 {
	return (pitch - 1) * 20
}
