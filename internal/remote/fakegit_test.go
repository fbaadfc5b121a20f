// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeGit is an in-memory GitHub git data API. Trees are stored as flat
// path->blob maps; a subtree id is "<tree>:<dir>".
type fakeGit struct {
	mu       sync.Mutex
	blobs    map[string]string
	trees    map[string]map[string]string
	commits  map[string]fakeCommit
	head     string
	seq      int
	requests map[string]int

	rejectRefUpdates int
	failStatus       int
	failHeaders      map[string]string
	token            string
}

type fakeCommit struct {
	tree   string
	parent string
}

func newFakeGit(t *testing.T, files map[string]string) (*fakeGit, *httptest.Server) {
	t.Helper()
	f := &fakeGit{
		blobs:    map[string]string{},
		trees:    map[string]map[string]string{},
		commits:  map[string]fakeCommit{},
		requests: map[string]int{},
		token:    "test-token",
	}
	flat := map[string]string{}
	for p, content := range files {
		sha := gitBlobSHA(content)
		f.blobs[sha] = content
		flat[p] = sha
	}
	f.trees["t0"] = flat
	f.commits["c0"] = fakeCommit{tree: "t0"}
	f.head = "c0"

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGit) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[kind]
}

func (f *fakeGit) files() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for p, sha := range f.trees[f.commits[f.head].tree] {
		out[p] = f.blobs[sha]
	}
	return out
}

func (f *fakeGit) handler() http.Handler {
	mux := http.NewServeMux()
	const base = "/repos/owner/repo/git/"

	mux.HandleFunc("GET "+base+"ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeFakeJSON(w, map[string]any{"object": map[string]string{"sha": f.head}})
	})
	mux.HandleFunc("GET "+base+"commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.commits[r.PathValue("sha")]
		if !ok {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		writeFakeJSON(w, map[string]any{"tree": map[string]string{"sha": c.tree}})
	})
	mux.HandleFunc("GET "+base+"trees/{sha...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests["tree"]++
		id, dir, _ := strings.Cut(r.PathValue("sha"), ":")
		flat, ok := f.trees[id]
		if !ok {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		writeFakeJSON(w, map[string]any{"tree": listLevel(id, dir, flat)})
	})
	mux.HandleFunc("GET "+base+"blobs/{sha}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests["blob-get"]++
		content, ok := f.blobs[r.PathValue("sha")]
		if !ok {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		writeFakeJSON(w, map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			"encoding": "base64",
		})
	})
	mux.HandleFunc("POST "+base+"blobs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests["blob-post"]++
		sha := gitBlobSHA(req.Content)
		f.blobs[sha] = req.Content
		w.WriteHeader(http.StatusCreated)
		writeFakeJSON(w, map[string]string{"sha": sha})
	})
	mux.HandleFunc("POST "+base+"trees", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BaseTree string `json:"base_tree"`
			Tree     []struct {
				Path string  `json:"path"`
				SHA  *string `json:"sha"`
			} `json:"tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		flat := map[string]string{}
		for p, sha := range f.trees[req.BaseTree] {
			flat[p] = sha
		}
		for _, e := range req.Tree {
			if e.SHA == nil {
				delete(flat, e.Path)
			} else {
				flat[e.Path] = *e.SHA
			}
		}
		f.seq++
		id := fmt.Sprintf("t%d", f.seq)
		f.trees[id] = flat
		w.WriteHeader(http.StatusCreated)
		writeFakeJSON(w, map[string]string{"sha": id})
	})
	mux.HandleFunc("POST "+base+"commits", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.seq++
		id := fmt.Sprintf("c%d", f.seq)
		f.commits[id] = fakeCommit{tree: req.Tree, parent: req.Parents[0]}
		w.WriteHeader(http.StatusCreated)
		writeFakeJSON(w, map[string]string{"sha": id})
	})
	mux.HandleFunc("PATCH "+base+"refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SHA string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests["ref-update"]++
		if f.rejectRefUpdates > 0 {
			f.rejectRefUpdates--
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeFakeJSON(w, map[string]string{"message": "Update is not a fast forward"})
			return
		}
		if f.commits[req.SHA].parent != f.head {
			w.WriteHeader(http.StatusUnprocessableEntity)
			writeFakeJSON(w, map[string]string{"message": "Update is not a fast forward"})
			return
		}
		f.head = req.SHA
		writeFakeJSON(w, map[string]any{"object": map[string]string{"sha": f.head}})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			writeFakeJSON(w, map[string]string{"message": "Bad credentials"})
			return
		}
		f.mu.Lock()
		status, headers := f.failStatus, f.failHeaders
		f.mu.Unlock()
		if status != 0 {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(status)
			writeFakeJSON(w, map[string]string{"message": http.StatusText(status)})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// listLevel returns the direct children of dir in a flat tree.
func listLevel(id, dir string, flat map[string]string) []map[string]string {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seenDirs := map[string]bool{}
	var out []map[string]string
	for p, sha := range flat {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if name, _, isDir := strings.Cut(rest, "/"); isDir {
			if !seenDirs[name] {
				seenDirs[name] = true
				out = append(out, map[string]string{"path": name, "type": "tree", "sha": id + ":" + prefix + name})
			}
			continue
		}
		out = append(out, map[string]string{"path": rest, "type": "blob", "sha": sha})
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["path"] < out[j]["path"] })
	return out
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
