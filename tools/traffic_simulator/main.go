package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/dcoserve/internal/config"
	"github.com/patrickwarner/dcoserve/internal/db"
	"github.com/patrickwarner/dcoserve/internal/observability"
)

const statsInterval = 5 * time.Second

var userAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
}

// Documentation ranges, never routable.
var clientIPs = []string{"192.0.2.1", "198.51.100.1", "203.0.113.1"}

// target is one campaign/template/segment combination to request.
type target struct {
	Campaign string
	Template string
	Segment  string
}

func (t target) String() string { return t.Campaign + ":" + t.Template + ":" + t.Segment }

func (t target) query(adID string) string {
	q := url.Values{}
	q.Set("campaign", t.Campaign)
	q.Set("template", t.Template)
	q.Set("segment", t.Segment)
	if adID != "" {
		q.Set("ad_id", adID)
	}
	return q.Encode()
}

func parseTargets(csv string) ([]target, error) {
	var out []target
	for _, raw := range strings.Split(csv, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("target %q must be campaign:template:segment", raw)
		}
		out = append(out, target{Campaign: parts[0], Template: parts[1], Segment: parts[2]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	return out, nil
}

type counters struct {
	sent, served, noAd, errors, clicks, redirects atomic.Uint64
}

// simulator replays a browser's view of one creative: ad request, impression
// pixel and, with probability clickRate, a click.
type simulator struct {
	base      string
	clickRate float64
	http      *http.Client
	clicks    *http.Client
	logger    *zap.Logger

	counts counters

	mu       sync.Mutex
	variants map[string]map[string]int // target -> ad id -> serves
}

func newSimulator(base string, clickRate float64, logger *zap.Logger) *simulator {
	return &simulator{
		base:      strings.TrimRight(base, "/"),
		clickRate: clickRate,
		http:      &http.Client{Timeout: 30 * time.Second, Transport: newTransport()},
		clicks: &http.Client{
			Timeout:   10 * time.Second,
			Transport: newTransport(),
			// Clicks stop at the ad server's redirect.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger:   logger,
		variants: make(map[string]map[string]int),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
	}
}

func (s *simulator) fail(msg string, fields ...zap.Field) {
	s.counts.errors.Add(1)
	s.logger.Error(msg, fields...)
}

// visit runs one creative view against t.
func (s *simulator) visit(ctx context.Context, r *rand.Rand, t target) {
	s.counts.sent.Add(1)
	ua := userAgents[r.Intn(len(userAgents))]
	ip := clientIPs[r.Intn(len(clientIPs))]

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := s.get(ctx, s.http, "/ad_server?"+t.query(""), ua, ip)
	if err != nil {
		s.fail("ad request error", zap.Error(err))
		return
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		s.fail("read body error", zap.Error(err))
		return
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		s.counts.noAd.Add(1)
		s.logger.Debug("no ad", zap.Stringer("target", t))
		return
	default:
		s.fail("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(body))))
		return
	}
	var sel struct {
		AdID string `json:"ad_id"`
	}
	if err := json.Unmarshal(body, &sel); err != nil || sel.AdID == "" {
		s.fail("decode error", zap.Error(err), zap.String("body", strings.TrimSpace(string(body))))
		return
	}
	s.tally(t, sel.AdID)

	imp, err := s.get(ctx, s.http, "/impression?"+t.query(sel.AdID), ua, ip)
	if err != nil {
		s.fail("impression error", zap.Error(err))
		return
	}
	_ = imp.Body.Close()
	s.counts.served.Add(1)

	if r.Float64() >= s.clickRate {
		return
	}
	clk, err := s.get(ctx, s.clicks, "/click_counter?"+t.query(sel.AdID), ua, ip)
	if err != nil {
		s.fail("click error", zap.Error(err))
		return
	}
	_ = clk.Body.Close()
	s.counts.clicks.Add(1)
	if clk.StatusCode == http.StatusFound {
		s.counts.redirects.Add(1)
	}
	s.logger.Debug("click", zap.Stringer("target", t), zap.String("ad_id", sel.AdID))
}

func (s *simulator) get(ctx context.Context, client *http.Client, path, ua, ip string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Forwarded-For", ip)
	return client.Do(req)
}

func (s *simulator) tally(t target, adID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAd, ok := s.variants[t.String()]
	if !ok {
		byAd = make(map[string]int)
		s.variants[t.String()] = byAd
	}
	byAd[adID]++
}

func (s *simulator) logStats(run string) {
	served := s.counts.served.Load()
	clicks := s.counts.clicks.Load()
	var ctr float64
	if served > 0 {
		ctr = float64(clicks) / float64(served)
	}
	s.logger.Info("stats",
		zap.String("run", run),
		zap.Uint64("sent", s.counts.sent.Load()),
		zap.Uint64("served", served),
		zap.Uint64("no_ad", s.counts.noAd.Load()),
		zap.Uint64("errors", s.counts.errors.Load()),
		zap.Uint64("clicks", clicks),
		zap.Uint64("redirects", s.counts.redirects.Load()),
		zap.Float64("ctr", ctr))
}

// logVariants reports how serves spread over each target's ad ids.
func (s *simulator) logVariants() {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.variants))
	for k := range s.variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		byAd := s.variants[k]
		lo, hi := -1, 0
		for _, n := range byAd {
			if lo < 0 || n < lo {
				lo = n
			}
			if n > hi {
				hi = n
			}
		}
		s.logger.Info("variant spread",
			zap.String("target", k),
			zap.Int("distinct_ads", len(byAd)),
			zap.Int("min_serves", lo),
			zap.Int("max_serves", hi))
	}
}

// pacer spaces request starts at a base interval with optional jitter.
type pacer struct {
	interval time.Duration
	jitter   float64
	r        *rand.Rand
	next     time.Time
}

func (p *pacer) wait() {
	if p.interval <= 0 {
		return
	}
	step := p.interval
	if p.jitter > 0 {
		f := 1 + (p.r.Float64()*2-1)*p.jitter
		step = time.Duration(float64(step) * max(f, 0.1))
	}
	if d := time.Until(p.next); d > 0 {
		time.Sleep(d)
	}
	if p.next.IsZero() {
		p.next = time.Now()
	}
	p.next = p.next.Add(step)
}

func resetCounters(logger *zap.Logger, addr string) {
	if addr == "" {
		addr = config.Load().RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()
	n, err := store.ResetEventCounts(context.Background())
	if err != nil {
		logger.Fatal("reset event counters", zap.Error(err))
	}
	logger.Info("redis event counters reset", zap.String("addr", addr), zap.Int("keys_deleted", n))
}

func main() {
	server := flag.String("server", "http://localhost:8787", "ad server base URL")
	targetsCSV := flag.String("targets", "demo-1:tpl-1:news,demo-1:tpl-1:sports", "comma-separated campaign:template:segment targets")
	total := flag.Int("requests", 1000, "total creative views to simulate (0 for no limit)")
	conc := flag.Int("concurrency", 20, "concurrent views")
	duration := flag.Duration("duration", 0, "how long to run traffic (0 to disable)")
	rate := flag.Float64("rate", 0, "views per second (0 for unlimited)")
	clickRate := flag.Float64("click-rate", 0.05, "probability of a click per impression")
	periodic := flag.Bool("stats", false, "log aggregated stats periodically")
	flush := flag.Bool("flush", false, "reset redis event counters before sending traffic")
	redisAddr := flag.String("redis", "", "redis address (defaults to REDIS_ADDR)")
	debug := flag.Bool("debug", false, "enable verbose debug logs")
	label := flag.String("label", time.Now().Format(time.RFC3339), "label to identify this run")
	jitter := flag.Float64("jitter", 0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if *debug {
		level = zapcore.DebugLevel
	}
	logger, err := observability.NewLogger("traffic-simulator", level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	targets, err := parseTargets(*targetsCSV)
	if err != nil {
		logger.Fatal("invalid targets", zap.Error(err))
	}
	if *total <= 0 && *duration <= 0 {
		logger.Fatal("one of -requests or -duration must be positive")
	}
	if *flush {
		resetCounters(logger, *redisAddr)
	}

	sim := newSimulator(*server, *clickRate, logger)
	seed := time.Now().UnixNano()
	p := &pacer{jitter: *jitter, r: rand.New(rand.NewSource(seed))}
	if *rate > 0 {
		p.interval = time.Duration(float64(time.Second) / *rate)
	} else if *duration > 0 && *total > 0 {
		p.interval = *duration / time.Duration(*total)
	}

	done := make(chan struct{})
	if *periodic {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					sim.logStats(*label)
				case <-done:
					return
				}
			}
		}()
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	sem := make(chan struct{}, max(*conc, 1))
	start := time.Now()
	for i := 0; *total <= 0 || i < *total; i++ {
		if *duration > 0 && time.Since(start) >= *duration {
			break
		}
		p.wait()
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			r := rand.New(rand.NewSource(seed + int64(i)))
			sim.visit(ctx, r, targets[r.Intn(len(targets))])
		}(i)
	}
	wg.Wait()
	close(done)
	sim.logStats(*label)
	sim.logVariants()
}
