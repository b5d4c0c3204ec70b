package model

import (
	"sort"
	"strings"
	"time"
)

// Severity is the coarse exposure classification shown on the dashboard.
type Severity string

const (
	SeveritySafe     Severity = "SAFE"
	SeverityElevated Severity = "ELEVATED"
	SeverityCritical Severity = "CRITICAL"
)

// TVOC thresholds in ppb.
const (
	TVOCElevatedPPB = 500.0
	TVOCCriticalPPB = 900.0
)

// Metric keys read by the derived accessors.
const (
	MetricSeverity         = "severity"
	MetricAvgTVOC          = "avg_tvoc_ppb"
	MetricMinTVOC          = "min_tvoc_ppb"
	MetricMaxTVOC          = "max_tvoc_ppb"
	MetricFractionCritical = "fraction_time_critical"
	MetricFractionElevated = "fraction_time_elevated"
	MetricSlope            = "tvoc_slope_ppb_per_hr"
	MetricSamplesCount     = "samplesCount"
)

// ParseSeverity maps a raw value onto a known severity, case-insensitively.
func ParseSeverity(raw string) (Severity, bool) {
	switch Severity(strings.ToUpper(strings.TrimSpace(raw))) {
	case SeveritySafe:
		return SeveritySafe, true
	case SeverityElevated:
		return SeverityElevated, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// ClassifyTVOC buckets an average TVOC reading. A missing reading is SAFE.
func ClassifyTVOC(avg *float64) Severity {
	if avg == nil {
		return SeveritySafe
	}
	switch {
	case *avg >= TVOCCriticalPPB:
		return SeverityCritical
	case *avg >= TVOCElevatedPPB:
		return SeverityElevated
	default:
		return SeveritySafe
	}
}

type AuthResult struct {
	Token       string
	UserID      string
	DisplayName string
	Email       string
}

type AIReport struct {
	Summary          string   `json:"summary"`
	RiskScore        *int     `json:"riskScore,omitempty"`
	KeyFindings      []string `json:"keyFindings"`
	Recommendations  []string `json:"recommendations"`
	DeconChecklist   []string `json:"deconChecklist"`
	PolicySuggestion *string  `json:"policySuggestion,omitempty"`
}

// Report is the exposure report for one time window.
type Report struct {
	WindowHours int      `json:"windowHours"`
	Metrics     Metrics  `json:"metrics"`
	AIReport    AIReport `json:"aiReport"`
	Model       string   `json:"model"`
	Source      string   `json:"source"`
}

func (r Report) Severity() Severity {
	raw, ok := r.Metrics.String(MetricSeverity)
	if !ok {
		return SeveritySafe
	}
	sev, ok := ParseSeverity(raw)
	if !ok {
		return SeveritySafe
	}
	return sev
}

func (r Report) IsCritical() bool {
	return r.Severity() == SeverityCritical
}

func (r Report) AvgTVOC() (float64, bool) {
	return r.Metrics.Float(MetricAvgTVOC)
}

func (r Report) MinTVOC() (float64, bool) {
	return r.Metrics.Float(MetricMinTVOC)
}

func (r Report) MaxTVOC() (float64, bool) {
	return r.Metrics.Float(MetricMaxTVOC)
}

func (r Report) FractionCritical() (float64, bool) {
	return r.Metrics.Float(MetricFractionCritical)
}

func (r Report) FractionElevated() (float64, bool) {
	return r.Metrics.Float(MetricFractionElevated)
}

func (r Report) SlopePPBPerHour() (float64, bool) {
	return r.Metrics.Float(MetricSlope)
}

func (r Report) SamplesCount() (int64, bool) {
	return r.Metrics.Int(MetricSamplesCount)
}

func (r Report) Summary() string {
	return strings.TrimSpace(r.AIReport.Summary)
}

func (r Report) RiskScore() (int, bool) {
	if r.AIReport.RiskScore == nil {
		return 0, false
	}
	return *r.AIReport.RiskScore, true
}

// Clone returns a deep copy so callers can hold a report across refreshes.
func (r Report) Clone() Report {
	out := r
	out.Metrics = NewMetrics(r.Metrics.raw)
	out.AIReport.KeyFindings = cloneStrings(r.AIReport.KeyFindings)
	out.AIReport.Recommendations = cloneStrings(r.AIReport.Recommendations)
	out.AIReport.DeconChecklist = cloneStrings(r.AIReport.DeconChecklist)
	if r.AIReport.RiskScore != nil {
		v := *r.AIReport.RiskScore
		out.AIReport.RiskScore = &v
	}
	if r.AIReport.PolicySuggestion != nil {
		v := *r.AIReport.PolicySuggestion
		out.AIReport.PolicySuggestion = &v
	}
	return out
}

// TimePoint is one bucketed TVOC average. TVOCPPB is nil for buckets without samples.
type TimePoint struct {
	Timestamp time.Time `json:"ts"`
	TVOCPPB   *float64  `json:"tvoc_ppb,omitempty"`
}

// SortSeries orders points by timestamp ascending and keeps one point per
// timestamp, the later occurrence winning.
func SortSeries(points []TimePoint) []TimePoint {
	if len(points) == 0 {
		return []TimePoint{}
	}
	out := make([]TimePoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	dedup := out[:0]
	for _, p := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(p.Timestamp) {
			dedup[n-1] = p
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

func CloneSeries(points []TimePoint) []TimePoint {
	out := make([]TimePoint, len(points))
	for i, p := range points {
		out[i] = p
		if p.TVOCPPB != nil {
			v := *p.TVOCPPB
			out[i].TVOCPPB = &v
		}
	}
	return out
}

// Bucket is the aggregation width of a series.
type Bucket string

const (
	BucketMinute Bucket = "minute"
	BucketHour   Bucket = "hour"
	BucketDay    Bucket = "day"
)

// NormalizeBucket falls back to hourly buckets for unknown values.
func NormalizeBucket(raw string) Bucket {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(raw))); b {
	case BucketMinute, BucketHour, BucketDay:
		return b
	default:
		return BucketHour
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
