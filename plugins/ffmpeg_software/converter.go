package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	plugins "github.com/mantonx/redseat/sdk"
)

type jobStatus string

const (
	statusQueued     jobStatus = "queued"
	statusProcessing jobStatus = "processing"
	statusDone       jobStatus = "done"
	statusFailed     jobStatus = "failed"
	statusCancelled  jobStatus = "cancelled"
)

type source struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type overlay struct {
	Path     string   `json:"path"`
	Position string   `json:"position,omitempty"`
	Margin   *float64 `json:"margin,omitempty"`
}

type caption struct {
	Text     string   `json:"text"`
	Start    *float64 `json:"start,omitempty"`
	End      *float64 `json:"end,omitempty"`
	Position *string  `json:"position,omitempty"`
	Color    *string  `json:"color,omitempty"`
}

type convertRequest struct {
	Source    source    `json:"source"`
	Format    string    `json:"format"`
	Codec     *string   `json:"codec,omitempty"`
	Crf       *int      `json:"crf,omitempty"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
	Framerate *int      `json:"framerate,omitempty"`
	Overlay   *overlay  `json:"overlay,omitempty"`
	Texts     []caption `json:"texts,omitempty"`
}

type convertJob struct {
	ID      string         `json:"id"`
	Request convertRequest `json:"request"`
}

type jobParams struct {
	JobID string `json:"job_id"`
}

type statusReport struct {
	ID       string    `json:"id"`
	Status   jobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Eta      *int64    `json:"eta,omitempty"`
	Error    *string   `json:"error,omitempty"`
}

type cancelReport struct {
	ID        string  `json:"id"`
	Cancelled bool    `json:"cancelled"`
	Message   *string `json:"message,omitempty"`
}

type outputLink struct {
	URL      string  `json:"url"`
	Filename *string `json:"filename,omitempty"`
	Mime     *string `json:"mime,omitempty"`
	Size     *int64  `json:"size,omitempty"`
	Status   string  `json:"status"`
}

type capabilities struct {
	Formats  []string `json:"formats"`
	Codecs   []string `json:"codecs"`
	Hardware []string `json:"hardware"`
}

// container maps an output format to the ffmpeg muxer, file extension and mime type
type container struct {
	muxer string
	ext   string
	mime  string
}

var containers = map[string]container{
	"mp4":  {muxer: "mp4", ext: ".mp4", mime: "video/mp4"},
	"webm": {muxer: "webm", ext: ".webm", mime: "video/webm"},
	"mkv":  {muxer: "matroska", ext: ".mkv", mime: "video/x-matroska"},
	"mov":  {muxer: "mov", ext: ".mov", mime: "video/quicktime"},
	"gif":  {muxer: "gif", ext: ".gif", mime: "image/gif"},
}

var encoders = map[string]string{
	"h264": "libx264",
	"h265": "libx265",
	"hevc": "libx265",
	"vp9":  "libvpx-vp9",
	"av1":  "libsvtav1",
}

// job is one ffmpeg run
type job struct {
	mu       sync.Mutex
	id       string
	output   string
	format   container
	status   jobStatus
	progress float64
	duration time.Duration
	started  time.Time
	errMsg   string
	cancel   context.CancelFunc
	done     chan struct{}
}

func (j *job) report() statusReport {
	j.mu.Lock()
	defer j.mu.Unlock()

	r := statusReport{ID: j.id, Status: j.status, Progress: j.progress}
	if j.errMsg != "" {
		msg := j.errMsg
		r.Error = &msg
	}
	if j.status == statusProcessing && j.progress > 0 && j.progress < 100 {
		elapsed := time.Since(j.started).Seconds()
		eta := int64(elapsed / j.progress * (100 - j.progress))
		r.Eta = &eta
	}
	return r
}

func (j *job) terminal() bool {
	switch j.status {
	case statusDone, statusFailed, statusCancelled:
		return true
	}
	return false
}

// Converter runs ffmpeg jobs and keeps their state in memory
type Converter struct {
	ffmpeg string
	outDir string
	logger hclog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewConverter creates a converter writing its outputs below outDir
func NewConverter(ffmpeg, outDir string, logger hclog.Logger) *Converter {
	return &Converter{
		ffmpeg: ffmpeg,
		outDir: outDir,
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// Start launches ffmpeg for j. The host owns the job id.
func (c *Converter) Start(j convertJob) (statusReport, error) {
	if j.ID == "" || j.Request.Source.URL == "" {
		return statusReport{}, plugins.Errorf(plugins.CodeBadRequest, "job id and source url are required")
	}
	format, ok := containers[strings.ToLower(j.Request.Format)]
	if !ok {
		return statusReport{}, plugins.NotFound("format %s not supported", j.Request.Format)
	}

	c.mu.Lock()
	if _, exists := c.jobs[j.ID]; exists {
		c.mu.Unlock()
		return statusReport{}, plugins.Errorf(plugins.CodeBadRequest, "job %s already exists", j.ID)
	}
	if err := os.MkdirAll(c.outDir, 0755); err != nil {
		c.mu.Unlock()
		return statusReport{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &job{
		id:      j.ID,
		output:  filepath.Join(c.outDir, safeName(j.ID)+format.ext),
		format:  format,
		status:  statusQueued,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.jobs[j.ID] = run
	c.mu.Unlock()

	args := buildArgs(j.Request, format, run.output)
	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.fail(run, fmt.Errorf("failed to create stdout pipe: %w", err))
		return run.report(), nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.fail(run, fmt.Errorf("failed to create stderr pipe: %w", err))
		return run.report(), nil
	}
	if err := cmd.Start(); err != nil {
		c.fail(run, fmt.Errorf("failed to start ffmpeg: %w", err))
		return run.report(), nil
	}

	run.mu.Lock()
	run.status = statusProcessing
	run.mu.Unlock()
	c.logger.Info("conversion started", "job_id", j.ID, "format", j.Request.Format, "output", run.output)

	tail := &tailBuffer{}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		monitorProgress(run, stdout)
	}()
	go func() {
		defer readers.Done()
		monitorStderr(run, stderr, tail)
	}()
	go func() {
		readers.Wait()
		c.finish(ctx, run, cmd.Wait(), tail)
	}()

	return run.report(), nil
}

func (c *Converter) fail(run *job, err error) {
	run.cancel()
	run.mu.Lock()
	run.status = statusFailed
	run.errMsg = err.Error()
	run.mu.Unlock()
	close(run.done)
	c.logger.Error("conversion failed to start", "job_id", run.id, "error", err)
}

func (c *Converter) finish(ctx context.Context, run *job, err error, tail *tailBuffer) {
	run.mu.Lock()
	switch {
	case err == nil:
		run.status = statusDone
		run.progress = 100
	case errors.Is(ctx.Err(), context.Canceled):
		run.status = statusCancelled
	default:
		run.status = statusFailed
		run.errMsg = strings.TrimSpace(err.Error() + ": " + tail.String())
	}
	status := run.status
	run.mu.Unlock()
	run.cancel()
	close(run.done)

	c.logger.Info("conversion finished", "job_id", run.id, "status", status)
}

func (c *Converter) lookup(id string) (*job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return nil, plugins.NotFound("job %s not found", id)
	}
	return j, nil
}

// Status reports the job's progress
func (c *Converter) Status(id string) (statusReport, error) {
	j, err := c.lookup(id)
	if err != nil {
		return statusReport{}, err
	}
	return j.report(), nil
}

// Cancel stops a running job and waits for ffmpeg to exit
func (c *Converter) Cancel(id string) (cancelReport, error) {
	j, err := c.lookup(id)
	if err != nil {
		return cancelReport{}, err
	}

	j.mu.Lock()
	if j.terminal() {
		msg := fmt.Sprintf("job already %s", j.status)
		j.mu.Unlock()
		return cancelReport{ID: id, Cancelled: false, Message: &msg}, nil
	}
	j.mu.Unlock()

	j.cancel()
	<-j.done
	return cancelReport{ID: id, Cancelled: true}, nil
}

// Link returns a request for the finished output
func (c *Converter) Link(id string) (outputLink, error) {
	j, err := c.lookup(id)
	if err != nil {
		return outputLink{}, err
	}

	j.mu.Lock()
	status := j.status
	j.mu.Unlock()
	if status != statusDone {
		return outputLink{}, plugins.Errorf(plugins.CodeBadRequest, "job %s is %s", id, status)
	}

	info, err := os.Stat(j.output)
	if err != nil {
		return outputLink{}, plugins.NotFound("output of job %s is gone", id)
	}
	name := filepath.Base(j.output)
	mime := j.format.mime
	size := info.Size()
	return outputLink{URL: j.output, Filename: &name, Mime: &mime, Size: &size, Status: "ready"}, nil
}

// Clean cancels the job if needed, removes its output and forgets it
func (c *Converter) Clean(id string) (statusReport, error) {
	j, err := c.lookup(id)
	if err != nil {
		return statusReport{}, err
	}

	j.mu.Lock()
	running := !j.terminal()
	j.mu.Unlock()
	if running {
		j.cancel()
		<-j.done
	}

	if err := os.Remove(j.output); err != nil && !os.IsNotExist(err) {
		return statusReport{}, fmt.Errorf("failed to remove output: %w", err)
	}

	c.mu.Lock()
	delete(c.jobs, id)
	c.mu.Unlock()
	return j.report(), nil
}

// Capabilities lists supported formats and codecs
func (c *Converter) Capabilities() capabilities {
	caps := capabilities{Hardware: []string{"cpu"}}
	for f := range containers {
		caps.Formats = append(caps.Formats, f)
	}
	for codec := range encoders {
		caps.Codecs = append(caps.Codecs, codec)
	}
	sort.Strings(caps.Formats)
	sort.Strings(caps.Codecs)
	return caps
}

// Stop cancels every running job
func (c *Converter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.jobs {
		j.cancel()
	}
}

func buildArgs(req convertRequest, format container, output string) []string {
	args := []string{"-y", "-nostats", "-progress", "pipe:1"}

	if len(req.Source.Headers) > 0 {
		keys := make([]string, 0, len(req.Source.Headers))
		for k := range req.Source.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\r\n", k, req.Source.Headers[k])
		}
		args = append(args, "-headers", b.String())
	}
	args = append(args, "-i", req.Source.URL)
	if req.Overlay != nil {
		args = append(args, "-i", req.Overlay.Path)
	}

	var filters []string
	if req.Width != nil || req.Height != nil {
		filters = append(filters, fmt.Sprintf("scale=%s:%s", dimension(req.Width), dimension(req.Height)))
	}
	for _, t := range req.Texts {
		filters = append(filters, drawText(t))
	}

	if req.Overlay != nil {
		chain := "null"
		if len(filters) > 0 {
			chain = strings.Join(filters, ",")
		}
		args = append(args, "-filter_complex",
			fmt.Sprintf("[0:v]%s[base];[base][1:v]overlay=%s", chain, overlayPosition(req.Overlay)))
	} else if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	if req.Codec != nil {
		codec := *req.Codec
		if enc, ok := encoders[strings.ToLower(codec)]; ok {
			codec = enc
		}
		args = append(args, "-c:v", codec)
	}
	if req.Crf != nil {
		args = append(args, "-crf", strconv.Itoa(*req.Crf))
	}
	if req.Framerate != nil {
		args = append(args, "-r", strconv.Itoa(*req.Framerate))
	}
	if format.muxer == "mp4" || format.muxer == "mov" {
		args = append(args, "-movflags", "faststart")
	}

	return append(args, "-f", format.muxer, output)
}

func dimension(v *int) string {
	if v == nil {
		return "-2"
	}
	return strconv.Itoa(*v)
}

func overlayPosition(o *overlay) string {
	margin := 10.0
	if o.Margin != nil {
		margin = *o.Margin
	}
	m := strconv.FormatFloat(margin, 'f', -1, 64)
	switch o.Position {
	case "topLeft":
		return m + ":" + m
	case "topRight":
		return "W-w-" + m + ":" + m
	case "bottomLeft":
		return m + ":H-h-" + m
	case "center":
		return "(W-w)/2:(H-h)/2"
	default:
		return "W-w-" + m + ":H-h-" + m
	}
}

func drawText(t caption) string {
	color := "white"
	if t.Color != nil {
		color = *t.Color
	}
	text := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(t.Text)
	f := fmt.Sprintf("drawtext=text='%s':fontcolor=%s:fontsize=h/20", text, color)

	switch {
	case t.Position != nil && *t.Position == "top":
		f += ":x=(w-text_w)/2:y=h/20"
	case t.Position != nil && *t.Position == "center":
		f += ":x=(w-text_w)/2:y=(h-text_h)/2"
	default:
		f += ":x=(w-text_w)/2:y=h-text_h-h/20"
	}

	if t.Start != nil || t.End != nil {
		start, end := 0.0, 1e9
		if t.Start != nil {
			start = *t.Start
		}
		if t.End != nil {
			end = *t.End
		}
		f += fmt.Sprintf(":enable='between(t,%g,%g)'", start, end)
	}
	return f
}

var durationRegex = regexp.MustCompile(`Duration:\s*(\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)`)

// monitorStderr picks the input duration out of ffmpeg's banner
func monitorStderr(run *job, r io.Reader, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Add(line)
		if d, ok := parseDuration(line); ok {
			run.mu.Lock()
			if run.duration == 0 {
				run.duration = d
			}
			run.mu.Unlock()
		}
	}
}

func parseDuration(line string) (time.Duration, bool) {
	match := durationRegex.FindStringSubmatch(line)
	if len(match) < 4 {
		return 0, false
	}
	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.ParseFloat(match[3], 64)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), true
}

// monitorProgress reads the key=value blocks written by -progress
func monitorProgress(run *job, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" {
			continue
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		run.mu.Lock()
		run.progress = percent(time.Duration(us)*time.Microsecond, run.duration, run.progress)
		run.mu.Unlock()
	}
}

// percent never moves backwards and stays below 100 until ffmpeg exits
func percent(elapsed, total time.Duration, current float64) float64 {
	if total <= 0 || elapsed <= 0 {
		return current
	}
	p := float64(elapsed) / float64(total) * 100
	if p > 99 {
		p = 99
	}
	if p < current {
		return current
	}
	return p
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, id)
}

// tailBuffer keeps the last few stderr lines for error messages
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
}

const tailLines = 5

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[len(t.lines)-tailLines:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
