package synth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/echolane/voicegate/internal/config"
	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execChunk struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs an external command per request: the request goes to
// stdin as JSON, audio comes back as line-delimited base64 chunks which
// are concatenated into one buffer.
func NewExecSynth(cfg config.SynthConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execSynth{cmd: args, sampleRate: cfg.SampleRate, channels: cfg.Channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var audio bytes.Buffer
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk execChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode synth chunk: %w", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(chunk.PCMBase64)
		if err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode synth chunk: %w", err)
		}
		audio.Write(pcm)
		if chunk.Final {
			break
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		cmd.Wait()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%w: synth command failed: %v", ErrUnavailable, err)
	}
	if audio.Len() == 0 {
		return nil, fmt.Errorf("synth command produced no audio")
	}
	return audio.Bytes(), nil
}
