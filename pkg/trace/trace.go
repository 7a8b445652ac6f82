// Package trace assembles and persists the durable record of one workflow
// run. Each run becomes a plain-text file under the trace directory; the
// section labels inside the file are a wire format: the log-browsing API
// parses them back by substring matching, so they must never change.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flowgate/flowgate/pkg/models"
)

// DefaultDir is where trace files go unless configured otherwise.
const DefaultDir = "storage/workflow_logs"

// Logger is the logging interface the tracer depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RequestInfo is the slice of the inbound request recorded with a run.
type RequestInfo struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]interface{}
}

// Tracer writes one trace file per finished run.
type Tracer struct {
	dir    string
	logger Logger
}

// New returns a Tracer writing into dir (DefaultDir when empty).
func New(dir string, logger Logger) *Tracer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Tracer{dir: dir, logger: logger}
}

// Dir returns the trace directory.
func (t *Tracer) Dir() string { return t.dir }

// Begin opens a new execution record in the running state.
func (t *Tracer) Begin(workflowID int64, workflowName string, req RequestInfo) *models.ExecutionLog {
	return &models.ExecutionLog{
		ExecutionID:   uuid.NewString(),
		WorkflowID:    workflowID,
		WorkflowName:  workflowName,
		StartTime:     time.Now(),
		Status:        models.ExecutionStatusRunning,
		RequestMethod: req.Method,
		RequestPath:   req.Path,
		RequestQuery:  req.Query,
		RequestBody:   req.Body,
	}
}

// RecordNode appends one node's sub-record to the run.
func (t *Tracer) RecordNode(log *models.ExecutionLog, n models.NodeExecution) {
	log.NodeExecutions = append(log.NodeExecutions, n)
}

// Finish stamps the terminal status and result onto the record.
func (t *Tracer) Finish(log *models.ExecutionLog, status string, result map[string]interface{}, finalNode *int, iterations int) {
	end := time.Now()
	log.EndTime = &end
	log.Duration = end.Sub(log.StartTime).Seconds()
	log.Status = status
	log.Result = result
	log.FinalNode = finalNode
	log.Iterations = iterations
	if status == models.ExecutionStatusError {
		if msg, ok := result["error"].(string); ok {
			log.ErrorMessage = msg
		}
		if tb, ok := result["traceback"].(string); ok {
			log.ErrorTraceback = tb
		}
	}
}

// Save persists the record as a text file named
// {startTimeYYYYMMDD_HHMMSS}_{executionIdWithoutHyphens}.log and returns the
// file path.
func (t *Tracer) Save(log *models.ExecutionLog) (string, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create trace directory")
	}
	filename := Filename(log.StartTime, log.ExecutionID)
	path := filepath.Join(t.dir, filename)
	if err := os.WriteFile(path, []byte(Format(log)), 0o644); err != nil {
		return "", errors.Wrap(err, "write trace file")
	}
	return path, nil
}

// Filename builds the canonical trace file name for a run.
func Filename(start time.Time, executionID string) string {
	return fmt.Sprintf("%s_%s.log",
		start.Format("20060102_150405"),
		strings.ReplaceAll(executionID, "-", ""))
}

// Format renders the record as the fixed-label text layout.
func Format(log *models.ExecutionLog) string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(rule)
	line("工作流执行日志")
	line(rule)
	line("")

	line("【基本信息】")
	line("  执行ID:     %s", log.ExecutionID)
	line("  工作流ID:   %d", log.WorkflowID)
	line("  工作流名称: %s", log.WorkflowName)
	line("  开始时间:   %s", log.StartTime.Format("2006-01-02 15:04:05"))
	if log.EndTime != nil {
		line("  结束时间:   %s", log.EndTime.Format("2006-01-02 15:04:05"))
	}
	if log.Duration > 0 {
		line("  执行时长:   %.3f 秒", log.Duration)
	}
	line("  状态:       %s", strings.ToUpper(log.Status))
	if log.FinalNode != nil && *log.FinalNode != 0 {
		line("  最终节点:   %d", *log.FinalNode)
	}
	if log.Iterations > 0 {
		line("  迭代次数:   %d", log.Iterations)
	}
	line("")

	line("【请求信息】")
	line("  请求方法:   %s", log.RequestMethod)
	line("  请求路径:   %s", log.RequestPath)
	if len(log.RequestQuery) > 0 {
		line("  查询参数:")
		keys := make([]string, 0, len(log.RequestQuery))
		for k := range log.RequestQuery {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line("    %s: %s", k, log.RequestQuery[k])
		}
	}
	if len(log.RequestBody) > 0 {
		line("  请求体:")
		writeJSON(&b, log.RequestBody, "    ")
	}
	line("")

	if len(log.NodeExecutions) > 0 {
		line("【节点执行详情】")
		for i, n := range log.NodeExecutions {
			line("  节点 %d: %s", i+1, n.NodeName)
			line("    编号:     %d", n.NodeNumber)
			line("    开始时间: %s", n.StartTime)
			if n.EndTime != "" {
				line("    结束时间: %s", n.EndTime)
			}
			if n.Duration > 0 {
				line("    耗时:     %.3f秒", n.Duration)
			}
			line("    状态:     %s", strings.ToUpper(n.Status))
			if n.Error != "" {
				line("    错误:     %s", n.Error)
			}
			line("")
		}
	}

	if len(log.Result) > 0 {
		line("【执行结果】")
		writeJSON(&b, log.Result, "  ")
		line("")
	}

	if log.ErrorMessage != "" {
		line("【错误信息】")
		line("  %s", log.ErrorMessage)
		line("")
	}
	if log.ErrorTraceback != "" {
		line("【错误堆栈】")
		for _, l := range strings.Split(log.ErrorTraceback, "\n") {
			line("  %s", l)
		}
		line("")
	}

	line(rule)
	line("日志生成时间: %s", time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(rule)
	return b.String()
}

func writeJSON(b *strings.Builder, v interface{}, indent string) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(b, "%s%v\n", indent, v)
		return
	}
	for _, l := range strings.Split(string(data), "\n") {
		fmt.Fprintf(b, "%s%s\n", indent, l)
	}
}

// Head is the metadata parsed back from a trace file's fixed labels.
type Head struct {
	ExecutionID  string  `json:"execution_id"`
	WorkflowName string  `json:"workflow_name"`
	StartTime    string  `json:"start_time"`
	Status       string  `json:"status"`
	Duration     float64 `json:"duration"`
}

// ParseHead extracts run metadata from the leading lines of a trace file by
// matching the fixed labels.
func ParseHead(lines []string) Head {
	var h Head
	for _, raw := range lines {
		l := strings.TrimSpace(raw)
		switch {
		case strings.Contains(l, "执行ID:"):
			h.ExecutionID = strings.TrimSpace(after(l, "执行ID:"))
		case strings.Contains(l, "工作流名称:"):
			h.WorkflowName = strings.TrimSpace(after(l, "工作流名称:"))
		case strings.Contains(l, "开始时间:"):
			h.StartTime = strings.TrimSpace(after(l, "开始时间:"))
		case strings.Contains(l, "状态:"):
			h.Status = strings.TrimSpace(after(l, "状态:"))
		case strings.Contains(l, "执行时长:"):
			v := strings.TrimSpace(strings.ReplaceAll(after(l, "执行时长:"), " 秒", ""))
			if d, err := strconv.ParseFloat(v, 64); err == nil {
				h.Duration = d
			}
		}
	}
	return h
}

func after(s, label string) string {
	idx := strings.LastIndex(s, label)
	return s[idx+len(label):]
}

// Entry describes one trace file in a listing.
type Entry struct {
	Filename    string  `json:"filename"`
	ExecutionID string  `json:"execution_id"`
	StartTime   string  `json:"start_time"`
	Status      string  `json:"status"`
	Duration    float64 `json:"duration"`
	FilePath    string  `json:"file_path"`
}

// ListForWorkflow scans the trace directory for runs of the named workflow,
// newest first, up to limit entries. Unreadable files are skipped.
func (t *Tracer) ListForWorkflow(workflowName string, limit int) ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(t.dir, "*.log"))
	if err != nil {
		return nil, err
	}
	entries := []Entry{}
	for _, p := range paths {
		head, err := readHead(p)
		if err != nil {
			continue
		}
		if head.WorkflowName != workflowName {
			continue
		}
		entries = append(entries, Entry{
			Filename:    filepath.Base(p),
			ExecutionID: head.ExecutionID,
			StartTime:   head.StartTime,
			Status:      head.Status,
			Duration:    head.Duration,
			FilePath:    p,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].StartTime > entries[j].StartTime })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// readHead parses the first lines of one trace file.
func readHead(path string) (Head, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Head{}, err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}
	return ParseHead(lines), nil
}

// ReadFile returns the raw content of one trace file inside the trace
// directory. The filename must already be validated.
func (t *Tracer) ReadFile(filename string) (string, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, filename))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ValidateFilename rejects names that could escape the trace directory and
// enforces the .log extension.
func ValidateFilename(filename string) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}
	if strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return errors.New("filename contains illegal characters")
	}
	if !strings.HasSuffix(filename, ".log") {
		return errors.New("only .log files are allowed")
	}
	return nil
}
