package ffmpeg

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrDependency reports a missing or incompatible media tool.
	ErrDependency = errors.New("media tool dependency error")
	// ErrMediaRead reports stream data that could not be read or parsed.
	ErrMediaRead = errors.New("media read error")
)

var versionRe = regexp.MustCompile(`ffmpeg version n?(\d+)`)

// ParseMajorVersion extracts the major version from `ffmpeg -version` output.
func ParseMajorVersion(out []byte) (int, error) {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	m := versionRe.FindSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("%w: could not determine ffmpeg version from %q", ErrDependency, string(line))
	}
	return strconv.Atoi(string(m[1]))
}

// ParseFrameRate parses an "num/den" ratio. ok is false for degenerate
// ratios such as "0/0" or non-numeric input.
func ParseFrameRate(ratio string) (fps float64, ok bool) {
	num, den, found := strings.Cut(strings.TrimSpace(ratio), "/")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	d, err := strconv.Atoi(den)
	if err != nil || d <= 0 {
		return 0, false
	}
	fps = float64(n) / float64(d)
	return fps, fps > 0
}

// ParsePTSTimes collects every pts_time value reported by the showinfo filter,
// in output order.
func ParsePTSTimes(stderr []byte) []float64 {
	var out []float64
	sc := bufio.NewScanner(bytes.NewReader(stderr))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		_, after, found := strings.Cut(sc.Text(), "pts_time:")
		if !found {
			continue
		}
		fields := strings.Fields(after)
		if len(fields) == 0 {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		out = append(out, ts)
	}
	return out
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	NbReadFrames string `json:"nb_read_frames"`
}

func parseProbe(out []byte) (probeOutput, error) {
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return p, fmt.Errorf("%w: parse ffprobe output: %v", ErrMediaRead, err)
	}
	return p, nil
}

func firstStream(out []byte) (probeStream, error) {
	p, err := parseProbe(out)
	if err != nil {
		return probeStream{}, err
	}
	if len(p.Streams) == 0 {
		return probeStream{}, fmt.Errorf("%w: no video stream", ErrMediaRead)
	}
	return p.Streams[0], nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
