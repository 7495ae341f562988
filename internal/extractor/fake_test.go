package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/your-org/framestream/internal/ffmpeg"
)

// fakeMedia simulates ffmpeg and ffprobe for a constant frame rate source
// with no decode errors.
type fakeMedia struct {
	t *testing.T

	version   string
	width     int
	height    int
	fps       int
	durations []float64
	hasAudio  bool

	decodeErrors  string
	failHardware  bool
	failSoftware  bool
	failAudio     bool
	failThumbnail bool

	calls [][]string
}

func newFakeMedia(t *testing.T) *fakeMedia {
	return &fakeMedia{
		t:         t,
		version:   "ffmpeg version 5.1.2 Copyright (c) 2000-2022 the FFmpeg developers",
		width:     1280,
		height:    720,
		fps:       30,
		durations: []float64{2, 2, 1},
	}
}

func (f *fakeMedia) tool() *ffmpeg.Tool {
	return ffmpeg.NewTool(f, ffmpeg.Config{}, zap.NewNop())
}

func (f *fakeMedia) totalFrames() int {
	var total float64
	for _, d := range f.durations {
		total += d
	}
	return int(total * float64(f.fps))
}

func (f *fakeMedia) Run(_ context.Context, name string, args ...string) (ffmpeg.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	joined := strings.Join(args, " ")
	last := args[len(args)-1]

	fail := func() (ffmpeg.Result, error) {
		return ffmpeg.Result{ExitCode: 1}, &ffmpeg.ExitError{Name: name, ExitCode: 1, Stderr: "simulated failure"}
	}

	if name == "ffprobe" {
		switch {
		case strings.Contains(joined, "-count_frames"):
			return f.jsonOut(`{"streams":[{"nb_read_frames":"%d"}]}`, f.segmentFrames(last))
		case strings.Contains(joined, "-select_streams a"):
			if f.hasAudio {
				return f.jsonOut(`{"streams":[{"codec_type":"audio"}]}`)
			}
			return f.jsonOut(`{"streams":[]}`)
		default:
			return f.jsonOut(`{"streams":[{"width":%d,"height":%d,"avg_frame_rate":"%d/1","duration":"5.000000"}]}`,
				f.width, f.height, f.fps)
		}
	}

	switch {
	case args[0] == "-version":
		return ffmpeg.Result{Stdout: []byte(f.version)}, nil
	case strings.Contains(joined, "-err_detect"):
		if f.decodeErrors != "" {
			return ffmpeg.Result{Stderr: []byte(f.decodeErrors), ExitCode: 1},
				&ffmpeg.ExitError{Name: name, ExitCode: 1, Stderr: f.decodeErrors}
		}
		return ffmpeg.Result{}, nil
	case strings.Contains(joined, "hevc_vaapi"):
		if f.failHardware {
			return fail()
		}
		f.write(last, "repaired")
	case strings.Contains(joined, "-fflags"):
		if f.failSoftware {
			return fail()
		}
		f.write(last, "repaired")
	case strings.Contains(joined, "-f hls"):
		f.writeSegments(filepath.Dir(last))
	case strings.Contains(joined, "showinfo"):
		return ffmpeg.Result{Stderr: []byte(f.showinfo())}, nil
	case strings.Contains(joined, "-f image2"):
		f.write(strings.Replace(last, "%09d", "000000000", 1), "frame")
	case strings.Contains(joined, "-vframes"):
		if f.failThumbnail {
			return fail()
		}
		f.write(last, "jpeg")
	case strings.Contains(joined, "-f u8"):
		f.write(last, strings.Repeat("\x80", 5000))
		if f.failAudio {
			return fail()
		}
	default:
		f.t.Fatalf("unexpected ffmpeg invocation: %s", joined)
	}
	return ffmpeg.Result{}, nil
}

func (f *fakeMedia) jsonOut(format string, a ...any) (ffmpeg.Result, error) {
	return ffmpeg.Result{Stdout: []byte(fmt.Sprintf(format, a...))}, nil
}

func (f *fakeMedia) write(path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		f.t.Fatalf("write %s: %v", path, err)
	}
}

func (f *fakeMedia) writeSegments(dir string) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i, d := range f.durations {
		name := fmt.Sprintf("%09d.ts", i)
		fmt.Fprintf(&b, "#EXTINF:%f,\n%s\n", d, name)
		f.write(filepath.Join(dir, name), strings.Repeat("x", int(d*1000)))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	f.write(filepath.Join(dir, IndexFile), b.String())
}

func (f *fakeMedia) segmentFrames(path string) int {
	var idx int
	if _, err := fmt.Sscanf(filepath.Base(path), "%09d.ts", &idx); err != nil || idx >= len(f.durations) {
		f.t.Fatalf("count frames on unexpected file %s", path)
	}
	return int(f.durations[idx] * float64(f.fps))
}

func (f *fakeMedia) showinfo() string {
	var b strings.Builder
	for n := 0; n < f.totalFrames(); n++ {
		fmt.Fprintf(&b, "[Parsed_showinfo_0 @ 0x1] n:%4d pts:%6d pts_time:%g duration:512 fmt:yuv420p\n",
			n, n*512, float64(n)/float64(f.fps))
	}
	return b.String()
}

func (f *fakeMedia) invoked(fragment string) bool {
	for _, c := range f.calls {
		if strings.Contains(strings.Join(c, " "), fragment) {
			return true
		}
	}
	return false
}
