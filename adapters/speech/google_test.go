package speech

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/require"
)

func TestTranscriptOf(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello "}}, IsFinal: true},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "there"}}},
		},
	}

	tr, ok := transcriptOf(resp)
	require.True(t, ok)
	require.Equal(t, "hello there", tr.Text)
	require.False(t, tr.Final)

	resp.Results[1].IsFinal = true
	tr, _ = transcriptOf(resp)
	require.True(t, tr.Final)

	_, ok = transcriptOf(&speechpb.StreamingRecognizeResponse{})
	require.False(t, ok)
}

func TestStreamingConfig(t *testing.T) {
	cfg := streamingConfig("id-ID").GetStreamingConfig()
	require.True(t, cfg.GetInterimResults())
	require.True(t, cfg.GetSingleUtterance())
	require.Equal(t, "id-ID", cfg.GetConfig().GetLanguageCode())
	require.Equal(t, int32(sampleRateHertz), cfg.GetConfig().GetSampleRateHertz())
}
