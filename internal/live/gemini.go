package live

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/hubenschmidt/livesession/internal/capture"
	"github.com/hubenschmidt/livesession/internal/tools"
)

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	inputMIME    = "audio/pcm;rate=16000"
)

// GeminiDialer connects to the Gemini Live API.
type GeminiDialer struct {
	client *genai.Client
	model  string
}

func NewGeminiDialer(ctx context.Context, apiKey, model string) (*GeminiDialer, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiDialer{client: client, model: model}, nil
}

func (d *GeminiDialer) Dial(ctx context.Context, setup Setup) (Stream, error) {
	sess, err := d.client.Live.Connect(ctx, d.model, connectConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("live connect: %w", err)
	}
	return &geminiStream{sess: sess}, nil
}

func connectConfig(setup Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if setup.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(setup.SystemPrompt, genai.RoleUser)
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if len(setup.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations(setup.Tools)}}
	}
	return cfg
}

func declarations(decls []tools.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if d.Parameters != nil {
			fd.ParametersJsonSchema = d.Parameters
		}
		if d.NonBlocking() {
			fd.Behavior = genai.BehaviorNonBlocking
		}
		out = append(out, fd)
	}
	return out
}

type geminiStream struct {
	sess *genai.Session
}

func (s *geminiStream) SendAudio(pcm []byte) error {
	return s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: inputMIME},
	})
}

func (s *geminiStream) SendVideo(f capture.Frame) error {
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{Data: data, MIMEType: f.MIMEType},
	})
}

func (s *geminiStream) SendText(text string, endOfTurn bool) error {
	return s.sess.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(endOfTurn),
	})
}

func (s *geminiStream) SendToolResponses(resps []tools.Response) error {
	frs := make([]*genai.FunctionResponse, len(resps))
	for i, r := range resps {
		frs[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Payload}
	}
	return s.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs})
}

func (s *geminiStream) Receive() (*ServerEvent, error) {
	msg, err := s.sess.Receive()
	if err != nil {
		return nil, err
	}
	return decodeMessage(msg), nil
}

func (s *geminiStream) Close() error { return s.sess.Close() }

func decodeMessage(msg *genai.LiveServerMessage) *ServerEvent {
	ev := &ServerEvent{}
	if sc := msg.ServerContent; sc != nil {
		decodeContent(sc, ev)
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, tools.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	return ev
}

func decodeContent(sc *genai.LiveServerContent, ev *ServerEvent) {
	if sc.ModelTurn != nil {
		var text, thought strings.Builder
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				ev.Audio = append(ev.Audio, p.InlineData.Data)
			}
			if p.Text == "" {
				continue
			}
			if p.Thought {
				thought.WriteString(p.Text)
				continue
			}
			text.WriteString(p.Text)
		}
		ev.Text = text.String()
		ev.Thought = thought.String()
	}
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted
}
