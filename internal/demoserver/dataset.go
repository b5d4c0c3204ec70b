package demoserver

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/fireshield/fsclient/internal/api"
	"github.com/fireshield/fsclient/internal/model"
)

// reading is the synthetic hourly TVOC profile: a six-hour swell around
// 480 ppb with spikes at fixed hours of the day.
func reading(t time.Time) float64 {
	h := float64(t.Hour())
	v := 480 + math.Sin(h*math.Pi/6)*100
	switch t.Hour() {
	case 5, 13, 20:
		v += 425
	}
	return math.Min(1125, math.Max(280, v))
}

// One dead sensor hour per day.
func hasSample(t time.Time) bool {
	return t.Hour() != 3
}

func hourlySeries(now time.Time, hours int) []api.TimePoint {
	end := now.UTC().Truncate(time.Hour)
	out := make([]api.TimePoint, 0, hours)
	for i := hours - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * time.Hour)
		p := api.TimePoint{TS: ts}
		if hasSample(ts) {
			v := reading(ts)
			p.TVOCPPB = &v
		}
		out = append(out, p)
	}
	return out
}

func bucketed(now time.Time, hours int, bucket model.Bucket) []api.TimePoint {
	switch bucket {
	case model.BucketMinute:
		end := now.UTC().Truncate(time.Minute)
		n := hours * 60
		out := make([]api.TimePoint, 0, n)
		for i := n - 1; i >= 0; i-- {
			ts := end.Add(-time.Duration(i) * time.Minute)
			p := api.TimePoint{TS: ts}
			if hasSample(ts) {
				v := reading(ts)
				p.TVOCPPB = &v
			}
			out = append(out, p)
		}
		return out
	case model.BucketDay:
		days := (hours + 23) / 24
		return dailySeries(now, days)
	default:
		return hourlySeries(now, hours)
	}
}

func dailySeries(now time.Time, days int) []api.TimePoint {
	end := now.UTC().Truncate(24 * time.Hour)
	out := make([]api.TimePoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := end.AddDate(0, 0, -i)
		sum, n := 0.0, 0
		for h := 0; h < 24; h++ {
			ts := day.Add(time.Duration(h) * time.Hour)
			if !hasSample(ts) {
				continue
			}
			sum += reading(ts)
			n++
		}
		p := api.TimePoint{TS: day}
		if n > 0 {
			v := sum / float64(n)
			p.TVOCPPB = &v
		}
		out = append(out, p)
	}
	return out
}

type windowStats struct {
	samples          int
	avg, min, max    float64
	fractionElevated float64
	fractionCritical float64
	slopePerHour     float64
}

func summarize(points []api.TimePoint) windowStats {
	var (
		st                 windowStats
		sum                float64
		elevated, critical int
		sx, sy, sxx, sxy   float64
		first              time.Time
	)
	st.min = math.Inf(1)
	st.max = math.Inf(-1)
	for _, p := range points {
		if p.TVOCPPB == nil {
			continue
		}
		v := *p.TVOCPPB
		if st.samples == 0 {
			first = p.TS
		}
		st.samples++
		sum += v
		st.min = math.Min(st.min, v)
		st.max = math.Max(st.max, v)
		if v >= model.TVOCElevatedPPB {
			elevated++
		}
		if v >= model.TVOCCriticalPPB {
			critical++
		}
		x := p.TS.Sub(first).Hours()
		sx += x
		sy += v
		sxx += x * x
		sxy += x * v
	}
	if st.samples == 0 {
		return windowStats{}
	}
	n := float64(st.samples)
	st.avg = sum / n
	st.fractionElevated = float64(elevated) / n
	st.fractionCritical = float64(critical) / n
	if d := n*sxx - sx*sx; d != 0 {
		st.slopePerHour = (n*sxy - sx*sy) / d
	}
	return st
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func buildReport(now time.Time, hours int) (api.InsightsReport, error) {
	points := hourlySeries(now, hours)
	st := summarize(points)

	metrics := map[string]any{
		"windowHours":            hours,
		"samplesCount":           st.samples,
		"windowStart":            now.UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339Nano),
		"windowEnd":              now.UTC().Format(time.RFC3339Nano),
		"elevated_threshold_ppb": model.TVOCElevatedPPB,
		"critical_threshold_ppb": model.TVOCCriticalPPB,
	}
	severity := model.SeveritySafe
	var risk int
	if st.samples > 0 {
		avg := st.avg
		severity = model.ClassifyTVOC(&avg)
		metrics[model.MetricAvgTVOC] = round3(st.avg)
		metrics[model.MetricMinTVOC] = round3(st.min)
		metrics[model.MetricMaxTVOC] = round3(st.max)
		metrics[model.MetricSlope] = round3(st.slopePerHour)
		metrics[model.MetricFractionElevated] = round3(st.fractionElevated)
		metrics[model.MetricFractionCritical] = round3(st.fractionCritical)
		risk = int(math.Min(100, math.Round(st.avg/model.TVOCCriticalPPB*100+st.fractionCritical*50)))
	}
	metrics[model.MetricSeverity] = string(severity)

	raw, err := model.MetricsFromValues(metrics).MarshalJSON()
	if err != nil {
		return api.InsightsReport{}, err
	}
	report := api.InsightsReport{
		WindowHours: hours,
		Model:       "rules-v1",
		Source:      "demo",
		AIReport:    advice(severity, st, risk),
	}
	if err := json.Unmarshal(raw, &report.Metrics); err != nil {
		return api.InsightsReport{}, err
	}
	return report, nil
}

func advice(severity model.Severity, st windowStats, risk int) api.AIReport {
	out := api.AIReport{
		KeyFindings:     []string{},
		Recommendations: []string{},
		DeconChecklist:  []string{},
	}
	if st.samples == 0 {
		out.Summary = "No samples were recorded in this window."
		return out
	}
	out.RiskScore = &risk
	out.Summary = fmt.Sprintf("%s TVOC levels. %d samples show an average TVOC of %.1f ppb, with peaks of %.0f ppb and %.0f %% of the time above the elevated threshold.",
		severityWord(severity), st.samples, st.avg, st.max, st.fractionElevated*100)
	out.KeyFindings = append(out.KeyFindings,
		fmt.Sprintf("TVOC levels peaked at %.0f ppb.", st.max),
		fmt.Sprintf("TVOC trend %+.2f ppb/hr.", st.slopePerHour),
		fmt.Sprintf("Elevated levels for ~%.0f %% of the window; critical levels for ~%.0f %%.", st.fractionElevated*100, st.fractionCritical*100),
	)
	if severity == model.SeveritySafe {
		out.Recommendations = append(out.Recommendations, "Continue routine monitoring.")
		return out
	}
	out.Recommendations = append(out.Recommendations,
		"Increase ventilation immediately.",
		"Identify and remove potential TVOC sources.",
		"Monitor levels continuously and report new spikes.",
	)
	out.DeconChecklist = append(out.DeconChecklist,
		"Ventilate gear thoroughly.",
		"Wash exposed skin with soap and water.",
		"Monitor for any symptoms (headache, dizziness).",
		"Report any unusual symptoms to medical personnel.",
	)
	policy := "Review ventilation protocols and increase monitoring frequency. Ensure all personnel follow decon procedures strictly."
	out.PolicySuggestion = &policy
	return out
}

func severityWord(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "Critical"
	case model.SeverityElevated:
		return "Elevated"
	default:
		return "Normal"
	}
}
