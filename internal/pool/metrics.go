package pool

import (
	"math"
	"slices"
	"strings"
	"time"

	"propcopy/internal/platform"
)

// emaWeight - вес нового наблюдения в скользящей средней задержки
const emaWeight = 0.1

// LatencyMetric - скользящая статистика платформы с момента старта процесса
type LatencyMetric struct {
	Platform      platform.Platform `json:"platform"`
	AvgLatency    float64           `json:"avg_latency_ms"`
	LastLatency   float64           `json:"last_latency_ms"`
	SuccessRate   float64           `json:"success_rate"` // проценты
	TotalRequests int64             `json:"total_requests"`
}

// observe добавляет одно наблюдение. Первое наблюдение задаёт начальное значение EMA.
func (m *LatencyMetric) observe(latency time.Duration, success bool) {
	ms := float64(latency) / float64(time.Millisecond)

	if m.TotalRequests == 0 {
		m.AvgLatency = ms
		m.LastLatency = ms
		m.SuccessRate = 0
		if success {
			m.SuccessRate = 100
		}
		m.TotalRequests = 1
		return
	}

	m.TotalRequests++
	m.LastLatency = ms
	m.AvgLatency = m.AvgLatency*(1-emaWeight) + ms*emaWeight

	// Счётчик успехов восстанавливается из процента, отдельно он не хранится
	successCount := math.Round(m.SuccessRate / 100 * float64(m.TotalRequests-1))
	if success {
		successCount++
	}
	m.SuccessRate = successCount / float64(m.TotalRequests) * 100
}

// score - чем выше, тем лучше платформа: доля успехов на обратную задержку
func (m LatencyMetric) score() float64 {
	return m.SuccessRate / 100 * (1000 / math.Max(m.AvgLatency, 1))
}

func (p *Pool) record(pl platform.Platform, latency time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.metrics[pl]
	if !ok {
		m = &LatencyMetric{Platform: pl}
		p.metrics[pl] = m
	}

	m.observe(latency, success)
}

// LatencyMetrics возвращает копию метрик по всем платформам, отсортированную по имени
func (p *Pool) LatencyMetrics() []LatencyMetric {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]LatencyMetric, 0, len(p.metrics))
	for _, m := range p.metrics {
		out = append(out, *m)
	}

	slices.SortFunc(out, func(a, b LatencyMetric) int {
		return strings.Compare(string(a.Platform), string(b.Platform))
	})

	return out
}

// BestPerformingPlatform возвращает платформу с лучшим score.
// false, если наблюдений ещё не было.
func (p *Pool) BestPerformingPlatform() (platform.Platform, bool) {
	metrics := p.LatencyMetrics()
	if len(metrics) == 0 {
		return "", false
	}

	// Стабильная сортировка по имени уже сделана, при равенстве побеждает первая
	best := metrics[0]
	for _, m := range metrics[1:] {
		if m.score() > best.score() {
			best = m
		}
	}

	return best.Platform, true
}
