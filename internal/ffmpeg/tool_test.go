package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func newTestTool(script func(name string, args []string) (Result, error)) (*Tool, *scriptedRunner) {
	r := &scriptedRunner{script: script}
	return NewTool(r, Config{}, zap.NewNop()), r
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		runErr  error
		wantErr bool
	}{
		{"v5", "ffmpeg version 5.1.2 Copyright", nil, false},
		{"v6", "ffmpeg version 6.0 Copyright", nil, false},
		{"v4 too old", "ffmpeg version 4.4.2 Copyright", nil, true},
		{"missing binary", "", fmt.Errorf("%w: ffmpeg: not found", ErrDependency), true},
		{"unparseable", "something else", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, _ := newTestTool(func(string, []string) (Result, error) {
				return Result{Stdout: []byte(tt.stdout)}, tt.runErr
			})
			err := tool.CheckVersion(context.Background())
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrDependency) {
				t.Fatalf("err = %v, want ErrDependency", err)
			}
		})
	}
}

func TestProbeVideo_AverageFrameRate(t *testing.T) {
	tool, r := newTestTool(func(name string, args []string) (Result, error) {
		return Result{Stdout: []byte(`{"streams":[{"width":1280,"height":720,"avg_frame_rate":"30/1","duration":"5.000000"}]}`)}, nil
	})

	md, err := tool.ProbeVideo(context.Background(), "in.mp4")
	if err != nil {
		t.Fatalf("ProbeVideo error: %v", err)
	}
	if md.Width != 1280 || md.Height != 720 || md.NativeFPS != 30 || md.Duration != 5 {
		t.Errorf("unexpected metadata %+v", md)
	}
	if len(r.calls) != 1 {
		t.Errorf("expected a single ffprobe call, got %d", len(r.calls))
	}
}

func TestProbeVideo_FallsBackToFrameCount(t *testing.T) {
	tool, r := newTestTool(func(name string, args []string) (Result, error) {
		if hasArg(args, "-count_frames") {
			return Result{Stdout: []byte(`{"streams":[{"nb_read_frames":"149"}]}`)}, nil
		}
		return Result{Stdout: []byte(`{"streams":[{"width":640,"height":480,"avg_frame_rate":"0/0","duration":"5.0"}]}`)}, nil
	})

	md, err := tool.ProbeVideo(context.Background(), "in.mp4")
	if err != nil {
		t.Fatalf("ProbeVideo error: %v", err)
	}
	if md.NativeFPS != 29.8 {
		t.Errorf("NativeFPS = %v, want 29.8", md.NativeFPS)
	}
	if len(r.calls) != 2 {
		t.Errorf("expected probe + count calls, got %d", len(r.calls))
	}
}

func TestProbeVideo_DegenerateWithoutDuration(t *testing.T) {
	tool, _ := newTestTool(func(string, []string) (Result, error) {
		return Result{Stdout: []byte(`{"streams":[{"width":640,"height":480,"avg_frame_rate":"0/0"}]}`)}, nil
	})
	_, err := tool.ProbeVideo(context.Background(), "in.mp4")
	if !errors.Is(err, ErrMediaRead) {
		t.Fatalf("err = %v, want ErrMediaRead", err)
	}
}

func TestProbeVideo_Errors(t *testing.T) {
	t.Run("garbage output", func(t *testing.T) {
		tool, _ := newTestTool(func(string, []string) (Result, error) {
			return Result{Stdout: []byte("garbage")}, nil
		})
		if _, err := tool.ProbeVideo(context.Background(), "in.mp4"); !errors.Is(err, ErrMediaRead) {
			t.Fatalf("err = %v, want ErrMediaRead", err)
		}
	})
	t.Run("missing ffprobe", func(t *testing.T) {
		tool, _ := newTestTool(func(string, []string) (Result, error) {
			return Result{}, fmt.Errorf("%w: ffprobe", ErrDependency)
		})
		if _, err := tool.ProbeVideo(context.Background(), "in.mp4"); !errors.Is(err, ErrDependency) {
			t.Fatalf("err = %v, want ErrDependency", err)
		}
	})
	t.Run("no streams", func(t *testing.T) {
		tool, _ := newTestTool(func(string, []string) (Result, error) {
			return Result{Stdout: []byte(`{"streams":[]}`)}, nil
		})
		if _, err := tool.ProbeVideo(context.Background(), "in.mp4"); !errors.Is(err, ErrMediaRead) {
			t.Fatalf("err = %v, want ErrMediaRead", err)
		}
	})
}

func TestHasAudio(t *testing.T) {
	tests := []struct {
		out  string
		want bool
	}{
		{`{"streams":[{"codec_type":"audio"}]}`, true},
		{`{"streams":[]}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		tool, _ := newTestTool(func(string, []string) (Result, error) {
			return Result{Stdout: []byte(tt.out)}, nil
		})
		got, err := tool.HasAudio(context.Background(), "in.mp4")
		if err != nil {
			t.Fatalf("HasAudio(%s) error: %v", tt.out, err)
		}
		if got != tt.want {
			t.Errorf("HasAudio(%s) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestDetectErrors(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		tool, _ := newTestTool(func(string, []string) (Result, error) {
			return Result{}, nil
		})
		got, err := tool.DetectErrors(context.Background(), "in.mp4")
		if err != nil || got != "" {
			t.Fatalf("DetectErrors() = (%q, %v), want empty", got, err)
		}
	})
	t.Run("decode errors reported through exit status", func(t *testing.T) {
		stderr := "[h264 @ 0x1] error while decoding MB 10 20\n"
		tool, _ := newTestTool(func(name string, _ []string) (Result, error) {
			return Result{Stderr: []byte(stderr), ExitCode: 1}, &ExitError{Name: name, ExitCode: 1, Stderr: stderr}
		})
		got, err := tool.DetectErrors(context.Background(), "in.mp4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "[h264 @ 0x1] error while decoding MB 10 20" {
			t.Errorf("DetectErrors() = %q", got)
		}
	})
}

func TestFrameTimestamps(t *testing.T) {
	tool, r := newTestTool(func(string, []string) (Result, error) {
		return Result{Stderr: []byte(showinfoGolden)}, nil
	})
	got, err := tool.FrameTimestamps(context.Background(), "in.mp4")
	if err != nil {
		t.Fatalf("FrameTimestamps error: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d timestamps, want 4", len(got))
	}
	if !hasArg(r.calls[0], "-vf showinfo") {
		t.Errorf("expected showinfo filter in %v", r.calls[0])
	}
}

func TestExitError_TruncatesStderr(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	e := &ExitError{Name: "ffmpeg", ExitCode: 1, Stderr: string(long)}
	if n := len(e.Error()); n > 600 {
		t.Errorf("error message length %d not truncated", n)
	}
}
