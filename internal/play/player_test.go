package play

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutput struct {
	bytes.Buffer
	sampleRate int
	channels   int
	closed     bool
}

func (o *recordingOutput) Close() error {
	o.closed = true
	return nil
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(&audio.Buffer{
		SampleRate: 22050,
		Channels: [][]float32{
			{0, 0.25, -0.25, 0.5},
			{1, -1, 0, 0.125},
		},
	})
	require.NoError(t, err)
	return data
}

func TestPlayData_WritesPCM(t *testing.T) {
	out := &recordingOutput{}
	p := &Player{newOutput: func(rate, channels int) (output, error) {
		out.sampleRate, out.channels = rate, channels
		return out, nil
	}}

	wav := testWAV(t)
	require.NoError(t, p.PlayData(context.Background(), wav))

	assert.Equal(t, 22050, out.sampleRate)
	assert.Equal(t, 2, out.channels)
	assert.Equal(t, wav[44:], out.Bytes())
	assert.True(t, out.closed)
}

func TestPlayData_Cancelled(t *testing.T) {
	out := &recordingOutput{}
	p := &Player{newOutput: func(int, int) (output, error) { return out, nil }}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.PlayData(ctx, testWAV(t))
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestPlay_FallsBackToExternal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "take.wav")
	require.NoError(t, os.WriteFile(path, testWAV(t), 0644))

	var played string
	p := &Player{
		directory: dir,
		newOutput: func(int, int) (output, error) { return nil, errors.New("no device") },
		external: func(path string) error {
			played = path
			return nil
		},
	}

	require.NoError(t, p.Play(context.Background(), "take"))
	assert.Equal(t, path, played)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mic-recording-1.wav")
	require.NoError(t, os.WriteFile(path, testWAV(t), 0644))

	p := &Player{directory: dir}

	got, err := p.Resolve("mic-recording-1")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = p.Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = p.Resolve("missing")
	assert.Error(t, err)
}
