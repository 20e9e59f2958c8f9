package download

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"nasmusic.dev/internal/obs"
)

const (
	DefaultAudioFormat  = "mp3"
	DefaultAudioQuality = "192K"
)

// YTDLPExecutor drives the yt-dlp binary: best audio stream, extracted and
// transcoded by ffmpeg, single video even when the URL names a playlist.
type YTDLPExecutor struct {
	format  string
	quality string
	log     *zap.Logger
}

// YTDLPOption configures YTDLPExecutor.
type YTDLPOption func(*YTDLPExecutor)

// WithAudioFormat sets the target codec/extension (mp3, m4a, opus, ...).
func WithAudioFormat(format string) YTDLPOption {
	return func(e *YTDLPExecutor) {
		if f := strings.TrimSpace(strings.ToLower(format)); f != "" {
			e.format = f
		}
	}
}

// WithAudioQuality sets the transcode quality, e.g. 192K or 0 for best VBR.
func WithAudioQuality(quality string) YTDLPOption {
	return func(e *YTDLPExecutor) {
		if q := strings.TrimSpace(quality); q != "" {
			e.quality = q
		}
	}
}

func NewYTDLPExecutor(opts ...YTDLPOption) *YTDLPExecutor {
	e := &YTDLPExecutor{format: DefaultAudioFormat, quality: DefaultAudioQuality, log: obs.Logger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Install makes sure a yt-dlp binary is available, downloading it into the
// user cache when none is found on PATH.
func Install(ctx context.Context) error {
	_, err := ytdlp.Install(ctx, nil)
	return err
}

// Attempt implements Executor.
func (e *YTDLPExecutor) Attempt(ctx context.Context, url, workDir string) (Result, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("prepare work dir: %w", err)
	}

	dl := ytdlp.New().
		NoPlaylist().
		NoProgress().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(e.format).
		AudioQuality(e.quality).
		PrintJSON().
		NoSimulate().
		Output(filepath.Join(workDir, "%(title)s.%(ext)s"))

	res, runErr := dl.Run(ctx, url)
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Error: timeoutMessage(ctxErr)}, nil
		}
		msg := runErr.Error()
		if res != nil {
			if line := lastErrorLine(res.Stderr); line != "" {
				msg = line
			}
		}
		e.log.Warn("yt-dlp failed", zap.String("url", url), zap.String("error", msg))
		return Result{Error: msg}, nil
	}
	if res == nil {
		return Result{}, errors.New("yt-dlp returned no result")
	}

	meta := parseInfo(res.Stdout)
	path, err := findAudio(workDir, e.format)
	if err != nil {
		return Result{}, err
	}
	if path == "" {
		if info, infoErr := res.GetExtractedInfo(); infoErr == nil && len(info) > 0 && info[0].Filename != nil {
			e.log.Debug("extracted file missing after transcode", zap.String("filename", *info[0].Filename))
		}
		return Result{Error: fmt.Sprintf("no %s file produced", e.format)}, nil
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Result{
		Success:         true,
		FilePath:        path,
		Title:           meta.Title,
		Artist:          meta.artist(),
		DurationSeconds: meta.Duration,
	}, nil
}

// info is the subset of yt-dlp's JSON info dict we keep.
type info struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Creator  string  `json:"creator"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
	Filename string  `json:"_filename"`
}

func (i info) artist() string {
	for _, v := range []string{i.Artist, i.Creator, i.Uploader, i.Channel} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseInfo reads the first JSON object line printed by --print-json.
func parseInfo(stdout string) info {
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var out info
		if err := json.Unmarshal([]byte(line), &out); err == nil {
			return out
		}
	}
	return info{}
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return ""
}

// findAudio returns the first file in dir with the given extension, by name.
func findAudio(dir, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

func timeoutMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "download timed out"
	}
	return "download cancelled"
}
