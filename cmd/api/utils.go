package main

import (
	"net/http"
	"strconv"
	"strings"
)

// actorHeader names the operator performing a call. Authentication happens
// upstream; the service only records who acted.
const actorHeader = "X-Actor"

func actorFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
