package apihttp

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	liveLogPollInterval = 300 * time.Millisecond
	explorerInlineLimit = 64 * 1024
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "tgstream is running")
}

// handleHLS serves manifests and segments from the hls tree. The path is
// cleaned and prefix-checked so ../ can never escape the root.
func (s *Server) handleHLS(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/hls/")
	if rel == "" || strings.Contains(rel, "..") {
		http.NotFound(w, r)
		return
	}

	root, err := filepath.Abs(s.hlsRoot)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	switch {
	case strings.HasSuffix(full, ".m3u8"):
		w.Header().Set("Content-Type", "application/x-mpegURL")
		w.Header().Set("Cache-Control", "no-cache")
	case strings.HasSuffix(full, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
	}
	http.ServeFile(w, r, full)
}

// handlePlaylistM3U emits the IPTV master list, one entry per stream.
func (s *Server) handlePlaylistM3U(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Host
	if s.baseURL != "" {
		host = s.baseURL
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	fmt.Fprintln(w, "#EXTM3U")
	for _, name := range s.streamNames {
		fmt.Fprintf(w, "#EXTINF:-1 tvg-id=\"%s@TG\",%s (720p)\n", name, name)
		fmt.Fprintf(w, "%s://%s/hls/%s/live.m3u8\n", scheme, host, name)
	}
}

// handleExplorer renders a read-only file tree rooted at the working
// directory, inlining small text files.
func (s *Server) handleExplorer(w http.ResponseWriter, r *http.Request) {
	root, err := filepath.Abs(s.exploreRoot)
	if err != nil {
		http.Error(w, "explorer unavailable", http.StatusInternalServerError)
		return
	}

	target := root
	if rel := r.URL.Query().Get("path"); rel != "" {
		target = filepath.Join(root, filepath.FromSlash(rel))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			http.NotFound(w, r)
			return
		}
	}

	info, err := os.Stat(target)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if info.IsDir() {
		s.renderDirListing(w, root, target)
		return
	}
	s.renderFile(w, root, target, info)
}

func (s *Server) renderDirListing(w http.ResponseWriter, root, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(w, "<pre>unreadable: %s</pre>", html.EscapeString(err.Error()))
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	rel, _ := filepath.Rel(root, dir)
	fmt.Fprintf(w, "<h3>%s</h3><ul>", html.EscapeString("/"+filepath.ToSlash(rel)))
	if dir != root {
		parent := filepath.ToSlash(filepath.Dir(rel))
		if parent == "." {
			parent = ""
		}
		fmt.Fprintf(w, `<li><a href="/explorer?path=%s">..</a></li>`, parent)
	}
	for _, e := range entries {
		childRel := filepath.ToSlash(filepath.Join(rel, e.Name()))
		if rel == "." {
			childRel = e.Name()
		}
		name := html.EscapeString(e.Name())
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, `<li><a href="/explorer?path=%s">%s</a></li>`, childRel, name)
	}
	fmt.Fprint(w, "</ul>")
}

func (s *Server) renderFile(w http.ResponseWriter, root, path string, info os.FileInfo) {
	if info.Size() > explorerInlineLimit || !isTextFile(path) {
		rel, _ := filepath.Rel(root, path)
		fmt.Fprintf(w, "<pre>%s (%d bytes, not inlined)</pre>",
			html.EscapeString(filepath.ToSlash(rel)), info.Size())
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w, "<pre>unreadable: %s</pre>", html.EscapeString(err.Error()))
		return
	}
	fmt.Fprintf(w, "<pre>%s</pre>", html.EscapeString(string(data)))
}

func isTextFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".log", ".json", ".m3u", ".m3u8", ".md", ".yml", ".yaml", ".env":
		return true
	default:
		return false
	}
}

// handleLiveLogs tails log.txt over SSE, polling for fresh lines every 300ms
// until the client goes away.
func (s *Server) handleLiveLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	file, err := os.Open(s.logPath)
	if err != nil {
		http.Error(w, "log unavailable", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(liveLogPollInterval)
	defer ticker.Stop()

	for {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				fmt.Fprintf(w, "data: %s\n\n", strings.TrimRight(line, "\n"))
				flusher.Flush()
			}
			if err != nil {
				if err != io.EOF {
					s.logger.Debug("live log read", slog.String("err", err.Error()))
					return
				}
				break
			}
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
