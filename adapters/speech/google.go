package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/satriahrh/persona-chat/domain"
)

const (
	DefaultLanguage = "en-US"
	sampleRateHertz = 16000
)

type GoogleSpeech struct {
	client   *speech.Client
	language string
}

func NewGoogleSpeech(ctx context.Context, language string) (*GoogleSpeech, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Google speech client: %w", err)
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &GoogleSpeech{
		client:   client,
		language: language,
	}, nil
}

func (g *GoogleSpeech) Close() error {
	return g.client.Close()
}

// Recognize implements domain.SpeechRecognizer. It streams LINEAR16 audio
// until audio is closed and reports interim and final transcripts of a single
// utterance.
func (g *GoogleSpeech) Recognize(ctx context.Context, audio <-chan []byte, onResult func(domain.Transcript)) error {
	streamingClient, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("creating streaming client: %w", err)
	}

	err = streamingClient.Send(streamingConfig(g.language))
	if err != nil {
		return fmt.Errorf("sending streaming config: %w", err)
	}

	sendCtx, stopSending := context.WithCancel(ctx)
	defer stopSending()

	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		for {
			select {
			case chunk, ok := <-audio:
				if !ok {
					sendErr <- streamingClient.CloseSend()
					return
				}
				if err := streamingClient.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
				}); err != nil {
					// io.EOF means the server already closed the stream.
					if !errors.Is(err, io.EOF) {
						sendErr <- fmt.Errorf("sending audio chunk: %w", err)
					}
					return
				}
			case <-sendCtx.Done():
				_ = streamingClient.CloseSend()
				return
			}
		}
	}()

	for {
		resp, err := streamingClient.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving transcription: %w", err)
		}
		if st := resp.GetError(); st != nil {
			return fmt.Errorf("recognition failed: %s", st.GetMessage())
		}
		if t, ok := transcriptOf(resp); ok {
			onResult(t)
		}
	}

	// The recognizer may end the utterance before the audio does.
	stopSending()
	return <-sendErr
}

func streamingConfig(language string) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: sampleRateHertz,
					LanguageCode:    language,
				},
				InterimResults:  true,
				SingleUtterance: true,
			},
		},
	}
}

// transcriptOf joins the top alternative of every result, mirroring how
// browsers concatenate result lists.
func transcriptOf(resp *speechpb.StreamingRecognizeResponse) (domain.Transcript, bool) {
	results := resp.GetResults()
	if len(results) == 0 {
		return domain.Transcript{}, false
	}
	var t domain.Transcript
	for _, r := range results {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			t.Text += alts[0].GetTranscript()
		}
	}
	t.Final = results[len(results)-1].GetIsFinal()
	return t, true
}
