package consent

import (
	"strings"
	"unicode"
)

// Verdict 表示用户对“是否查看推荐”问题的回答类别。
type Verdict string

const (
	Affirmative  Verdict = "affirmative"
	Negative     Verdict = "negative"
	Sample       Verdict = "sample"
	Unrecognized Verdict = "unrecognized"
)

// Proceeds reports whether the verdict allows remote persona and recommendation calls.
func (v Verdict) Proceeds() bool {
	return v == Affirmative
}

// Decision 给出判定结果及命中的关键词得分。
type Decision struct {
	Verdict Verdict
	Score   int
}

// 英文按整词匹配，避免 "no" 命中 "know"；中文按子串匹配。
var wordBuckets = map[Verdict][]string{
	Affirmative: {
		"yes", "y", "yeah", "yep", "yup", "sure", "ok", "okay", "okey", "please", "absolutely",
		"definitely", "certainly", "show", "alright", "affirmative", "proceed", "continue",
	},
	Negative: {
		"no", "n", "nope", "nah", "not", "don't", "dont", "never", "skip", "later", "cancel", "stop", "decline",
	},
	Sample: {
		"sample", "mock", "demo", "example",
	},
}

var phraseBuckets = map[Verdict][]string{
	Affirmative: {"go ahead", "of course", "let's see", "show me", "why not", "好", "好的", "是的", "可以", "当然", "行", "看看"},
	Negative:    {"no thanks", "not now", "maybe later", "not really", "不", "不要", "不用", "算了", "以后再说"},
	Sample:      {"sample data", "示例", "样例", "演示"},
}

// Analyze 用关键词启发式判断回答。同时命中肯定与否定时视为无法识别，
// 调用方应按否定处理而不是贸然发起远程调用。
func Analyze(answer string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	if normalized == "" {
		return Decision{Verdict: Unrecognized}
	}

	words := tokenize(normalized)
	scores := make(map[Verdict]int)
	for verdict, bucket := range wordBuckets {
		for _, w := range bucket {
			if _, ok := words[w]; ok {
				scores[verdict] += 3
			}
		}
	}
	padded := " " + strings.Join(strings.FieldsFunc(normalized, isSeparator), " ") + " "
	for verdict, bucket := range phraseBuckets {
		for _, phrase := range bucket {
			if isASCII(phrase) {
				if strings.Contains(padded, " "+phrase+" ") {
					scores[verdict] += 4
				}
				continue
			}
			if strings.Contains(normalized, phrase) {
				scores[verdict] += 3
			}
		}
	}

	// 明确提到示例数据时优先，沿用旧版 “sample/mock” 分支。
	if s := scores[Sample]; s > 0 {
		return Decision{Verdict: Sample, Score: s}
	}

	yes, no := scores[Affirmative], scores[Negative]
	switch {
	case yes > 0 && no > 0:
		return Decision{Verdict: Unrecognized, Score: yes - no}
	case yes > 0:
		return Decision{Verdict: Affirmative, Score: yes}
	case no > 0:
		return Decision{Verdict: Negative, Score: no}
	default:
		return Decision{Verdict: Unrecognized}
	}
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(text, isSeparator) {
		out[field] = struct{}{}
	}
	return out
}

func isSeparator(r rune) bool {
	if r == '\'' {
		return false
	}
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
