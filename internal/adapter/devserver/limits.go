package devserver

import (
	"net/http"
	"sync"
)

const (
	defaultMaxSockets      = 1000
	defaultMaxSocketsPerIP = 8
)

type limitReason string

const (
	limitReasonGlobal limitReason = "global_limit"
	limitReasonPerIP  limitReason = "per_ip_limit"
)

// socketLimits caps concurrent game sockets, per instance and per client IP.
type socketLimits struct {
	mu     sync.Mutex
	total  int
	ips    map[string]int
	max    int
	maxPer int
}

func newSocketLimits(maxTotal, maxPerIP int) *socketLimits {
	return &socketLimits{ips: make(map[string]int), max: maxTotal, maxPer: maxPerIP}
}

func (l *socketLimits) acquire(ip string) (bool, limitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.max {
		return false, limitReasonGlobal
	}
	if l.ips[ip] >= l.maxPer {
		return false, limitReasonPerIP
	}
	l.total++
	l.ips[ip]++
	return true, ""
}

func (l *socketLimits) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.ips[ip]
	if !ok {
		return
	}
	l.total--
	if count <= 1 {
		delete(l.ips, ip)
		return
	}
	l.ips[ip] = count - 1
}

func (r limitReason) status() int {
	if r == limitReasonGlobal {
		return http.StatusServiceUnavailable
	}
	return http.StatusTooManyRequests
}
