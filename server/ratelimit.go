// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.limiters[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = c
	}

	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

// perPeriod returns a limiter allowing n requests per period, all of which
// may arrive at once. n <= 0 disables it.
func perPeriod(n int, period time.Duration) *ipLimiter {
	if n <= 0 {
		return newIPLimiter(rate.Inf, 0)
	}

	return newIPLimiter(rate.Every(period/time.Duration(n)), n)
}

// prune drops the buckets of clients idle since before deadline.
func (l *ipLimiter) prune(deadline time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, c := range l.limiters {
		if c.lastSeen.Before(deadline) {
			delete(l.limiters, ip)
		}
	}
}

// limitWith rejects requests from clients with no tokens left in l.
func (s *Server) limitWith(l *ipLimiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !l.allow(ctx.ClientIP(), s.now()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again later"})

			return
		}

		ctx.Next()
	}
}
