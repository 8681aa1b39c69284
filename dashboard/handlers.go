package dashboard

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"with-timeout/history"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := history.ListFilter{}
	if secs := r.URL.Query().Get("finished_since_secs"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			filter.FinishedSinceSecs = n
		}
	}

	records, err := s.store.List(filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "run ID required", http.StatusBadRequest)
		return
	}

	rec, err := s.store.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, history.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "run ID required", http.StatusBadRequest)
		return
	}

	logs, err := s.store.ReadLog(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(logs))
}

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "run ID required", http.StatusBadRequest)
		return
	}

	rec, err := s.store.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(rec.LogPath)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	// Send the existing content first (last 100KB).
	const maxInitialRead = 100 * 1024
	offset := int64(0)
	if stat.Size() > maxInitialRead {
		offset = stat.Size() - maxInitialRead
	}
	if offset > 0 {
		f.Seek(offset, io.SeekStart)
	}

	reader := bufio.NewReader(f)
	initialData, _ := io.ReadAll(reader)
	if len(initialData) > 0 {
		sendSSEData(w, flusher, string(initialData))
	}

	currentPos, _ := f.Seek(0, io.SeekCurrent)

	// Tail the file for new content until the client goes away.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := f.Stat()
			if err != nil {
				continue
			}
			if stat.Size() > currentPos {
				f.Seek(currentPos, io.SeekStart)
				newData := make([]byte, stat.Size()-currentPos)
				n, err := f.Read(newData)
				if err != nil && err != io.EOF {
					continue
				}
				if n > 0 {
					sendSSEData(w, flusher, string(newData[:n]))
					currentPos += int64(n)
				}
			}
		}
	}
}

func sendSSEData(w http.ResponseWriter, flusher http.Flusher, data string) {
	// SSE format: each line of a multi-line payload gets its own "data:"
	// prefix, sent as a single event.
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		if i < len(lines)-1 || line != "" {
			fmt.Fprintf(w, "data: %s\n", line)
		}
	}
	fmt.Fprintf(w, "\n")
	flusher.Flush()
}
