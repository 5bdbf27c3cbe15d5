package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/devrecall/devrecall/internal/record"
)

// Intent labels what kind of answer a query is after.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentProcedural  Intent = "procedural"
	IntentDebugging   Intent = "debugging"
	IntentHistory     Intent = "history"
	IntentComparison  Intent = "comparison"
	IntentExploration Intent = "exploration"
)

// Inference is the result of intent analysis: the winning label, how sure
// the rules are, and the unioned filter hints from every matching rule.
type Inference struct {
	Intent     Intent
	Confidence float64

	// Hints are suggestions only. Caller-supplied filters always win.
	Types  []record.DataType
	Status string
	Since  *time.Time

	// MinImportance keeps only chunks tagged at or above this level;
	// 0 means no opinion.
	MinImportance int

	// AlphaHint nudges the hybrid blend; nil means no opinion.
	AlphaHint *float64
}

type intentRule struct {
	name          string
	re            *regexp.Regexp
	intent        Intent
	confidence    float64
	types         []record.DataType
	status        string
	minImportance int
	alphaHint     float64
	hasAlpha      bool
}

// intentRules are evaluated in order; every matching rule contributes its
// hints, the highest-confidence match sets the label.
var intentRules = []intentRule{
	{
		name:       "debugging",
		re:         regexp.MustCompile(`(?i)\b(error|errors|panic|exception|stack\s*trace|traceback|crash|crashed|crashing|broke|broken|failing|failed|bug|not\s+working)\b`),
		intent:     IntentDebugging,
		confidence: 0.8,
		types:      []record.DataType{record.TypeError, record.TypeSession},
		alphaHint:  0.5,
		hasAlpha:   true,
	},
	{
		name:       "procedural",
		re:         regexp.MustCompile(`(?i)^how\s+(do|to|can|should|would)\b|\b(steps?\s+to|guide|tutorial|walkthrough|set\s*up|setup)\b`),
		intent:     IntentProcedural,
		confidence: 0.7,
		types:      []record.DataType{record.TypeLearning, record.TypeCode},
	},
	{
		name:       "comparison",
		re:         regexp.MustCompile(`(?i)\b(vs\.?|versus|compare[d]?|comparison|difference\s+between|better\s+than|tradeoffs?)\b`),
		intent:     IntentComparison,
		confidence: 0.7,
	},
	{
		name:       "history",
		re:         regexp.MustCompile(`(?i)\b(yesterday|today|last\s+(week|month|night)|this\s+(week|month)|recently|ago|when\s+did|what\s+did\s+we|history\s+of|changed|timeline)\b`),
		intent:     IntentHistory,
		confidence: 0.6,
		types:      []record.DataType{record.TypeSession, record.TypeDeployment},
	},
	{
		name:          "incident",
		re:            regexp.MustCompile(`(?i)\b(critical|severe|major|urgent|incident|outage|sev\s*[12])\b`),
		intent:        IntentDebugging,
		confidence:    0.6,
		types:         []record.DataType{record.TypeError},
		minImportance: 7,
	},
	{
		name:       "deployment",
		re:         regexp.MustCompile(`(?i)\b(deploy(ed|ment)?|rolled?\s*back|rollback|released?|shipped)\b`),
		intent:     IntentHistory,
		confidence: 0.55,
		types:      []record.DataType{record.TypeDeployment},
	},
	{
		name:       "factual",
		re:         regexp.MustCompile(`(?i)^(what|which|who|where|is|are|does)\b`),
		intent:     IntentFactual,
		confidence: 0.5,
	},
}

// agreementNudge is added to confidence per extra rule agreeing on the
// winning intent, capped at maxConfidence.
const (
	agreementNudge = 0.1
	maxConfidence  = 0.95
)

var (
	pastNDaysRe  = regexp.MustCompile(`(?i)\b(?:past|last)\s+(\d+)\s+(hour|day|week|month)s?\b`)
	yesterdayRe  = regexp.MustCompile(`(?i)\byesterday\b`)
	todayRe      = regexp.MustCompile(`(?i)\btoday\b`)
	lastWeekRe   = regexp.MustCompile(`(?i)\b(?:last|this|past)\s+week\b`)
	lastMonthRe  = regexp.MustCompile(`(?i)\b(?:last|this|past)\s+month\b`)
	recentlyRe   = regexp.MustCompile(`(?i)\brecently\b|\bjust\s+now\b`)
	failedWordRe = regexp.MustCompile(`(?i)\b(failed|failing|broken)\b`)
)

// InferIntent classifies query and derives filter hints. now anchors
// relative-date parsing.
func InferIntent(query string, now time.Time) Inference {
	inf := Inference{Intent: IntentExploration, Confidence: 0.3}

	var (
		best      intentRule
		bestSet   bool
		agreement = map[Intent]int{}
		typeSeen  = map[record.DataType]bool{}
	)
	for _, rule := range intentRules {
		if !rule.re.MatchString(query) {
			continue
		}
		agreement[rule.intent]++
		for _, t := range rule.types {
			if !typeSeen[t] {
				typeSeen[t] = true
				inf.Types = append(inf.Types, t)
			}
		}
		if rule.status != "" && inf.Status == "" {
			inf.Status = rule.status
		}
		if rule.minImportance > inf.MinImportance {
			inf.MinImportance = rule.minImportance
		}
		if rule.hasAlpha && inf.AlphaHint == nil {
			a := rule.alphaHint
			inf.AlphaHint = &a
		}
		if !bestSet || rule.confidence > best.confidence {
			best = rule
			bestSet = true
		}
	}
	if bestSet {
		inf.Intent = best.intent
		inf.Confidence = best.confidence
		if extra := agreement[best.intent] - 1; extra > 0 {
			inf.Confidence += agreementNudge * float64(extra)
		}
		if inf.Confidence > maxConfidence {
			inf.Confidence = maxConfidence
		}
	}

	if inf.Intent == IntentDebugging && failedWordRe.MatchString(query) && inf.Status == "" {
		inf.Status = "failed"
	}
	inf.Since = parseRelativeDate(query, now)
	return inf
}

// parseRelativeDate extracts a lower time bound from relative-date phrases,
// nil when the query names no time frame. The most specific matching phrase
// wins.
func parseRelativeDate(query string, now time.Time) *time.Time {
	if m := pastNDaysRe.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			var d time.Duration
			switch strings.ToLower(m[2]) {
			case "hour":
				d = time.Duration(n) * time.Hour
			case "day":
				d = time.Duration(n) * 24 * time.Hour
			case "week":
				d = time.Duration(n) * 7 * 24 * time.Hour
			case "month":
				d = time.Duration(n) * 30 * 24 * time.Hour
			}
			t := now.Add(-d)
			return &t
		}
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case yesterdayRe.MatchString(query):
		t := midnight.AddDate(0, 0, -1)
		return &t
	case todayRe.MatchString(query):
		return &midnight
	case lastWeekRe.MatchString(query):
		t := now.AddDate(0, 0, -7)
		return &t
	case lastMonthRe.MatchString(query):
		t := now.AddDate(0, -1, 0)
		return &t
	case recentlyRe.MatchString(query):
		t := now.AddDate(0, 0, -3)
		return &t
	}
	return nil
}
