package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/invigilo/invigilo-backend/internal/config"
)

const metricsInterval = 7 * time.Second

// SystemHandler streams process and queue metrics to teachers via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger

	// CPU delta state
	prevIdle  uint64
	prevTotal uint64
}

func NewSystemHandler(rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	h := &SystemHandler{
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
	// Seed initial CPU reading so the first tick gets a real delta
	h.prevIdle, h.prevTotal, _ = readCPUStat()
	return h
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	CPUPercent float64 `json:"cpu_percent"`
	LoadAvg1   float64 `json:"load_avg_1"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Backlogs of the persistence workers. A growing queue means the
	// database is falling behind the live monitoring load.
	QueueEvents  int64 `json:"queue_events"`
	QueueAnswers int64 `json:"queue_answers"`
}

// SystemMetricsSSE godoc
// GET /api/v1/teacher/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	send := func() bool {
		m := h.collect(c)
		data, err := json.Marshal(m)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

func (h *SystemHandler) collect(c *gin.Context) systemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := systemMetrics{
		Timestamp:  time.Now().UnixMilli(),
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}

	idle, total, err := readCPUStat()
	if err == nil && total > h.prevTotal {
		dIdle := float64(idle - h.prevIdle)
		dTotal := float64(total - h.prevTotal)
		m.CPUPercent = (1 - dIdle/dTotal) * 100
		h.prevIdle, h.prevTotal = idle, total
	}
	m.LoadAvg1 = readLoadAvg()

	ctx := c.Request.Context()
	if n, err := h.rdb.LLen(ctx, config.WorkerKey.PersistEventsQueue).Result(); err == nil {
		m.QueueEvents = n
	}
	if n, err := h.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result(); err == nil {
		m.QueueAnswers = n
	}

	return m
}

// readCPUStat parses the aggregate cpu line of /proc/stat.
func readCPUStat() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, v := range fields[1:] {
			n, convErr := strconv.ParseUint(v, 10, 64)
			if convErr != nil {
				continue
			}
			total += n
			if i == 3 { // idle column
				idle = n
			}
		}
		return idle, total, nil
	}
	return 0, 0, fmt.Errorf("cpu line not found")
}

func readLoadAvg() float64 {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}
