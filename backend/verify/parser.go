package verify

import (
	"encoding/json"
	"regexp"
	"strings"
)

const maxRationaleLen = 500

type analysis struct {
	IsFire               bool     `json:"isFire"`
	Confidence           *float64 `json:"confidence"`
	Reasoning            string   `json:"reasoning"`
	FireIndicators       []string `json:"fireIndicators"`
	FalsePositiveReasons []string `json:"falsePositiveReasons"`
	Sensitive            bool     `json:"sensitive"`
	SensitiveReason      string   `json:"sensitiveReason"`
}

// extractJSON pulls the JSON object out of a model answer that may be
// wrapped in a markdown code block or surrounded by prose.
func extractJSON(response string) string {
	const marker = "```"

	startIdx := strings.Index(response, marker)
	if startIdx != -1 {
		rest := response[startIdx+len(marker):]
		if endIdx := strings.Index(rest, marker); endIdx != -1 {
			content := strings.TrimSpace(rest[:endIdx])
			// Remove the language identifier if present
			content = strings.TrimSpace(strings.TrimPrefix(content, "json"))
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	startIdx = strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx < startIdx {
		return response
	}
	return strings.TrimSpace(response[startIdx : endIdx+1])
}

// ParseResponse converts a model answer into a Result. Structured JSON is
// tried first; anything else goes through a keyword scan.
func ParseResponse(text string) *Result {
	var a analysis
	if err := json.Unmarshal([]byte(extractJSON(strings.TrimSpace(text))), &a); err != nil {
		return keywordResult(text)
	}

	score := 0.15
	if a.IsFire {
		score = 0.85
	}
	if a.Confidence != nil {
		score = clamp(*a.Confidence)
	}
	res := &Result{
		IsFire:               a.IsFire,
		Score:                score,
		Rationale:            a.Reasoning,
		Sensitive:            a.Sensitive,
		SensitiveRationale:   a.SensitiveReason,
		FireIndicators:       a.FireIndicators,
		FalsePositiveReasons: a.FalsePositiveReasons,
	}
	if res.Rationale == "" {
		res.Rationale = "Fire detection completed"
	}
	if res.SensitiveRationale == "" {
		res.SensitiveRationale = "No sensitive content detected"
	}
	return res
}

var (
	isFireTrueRe = regexp.MustCompile(`(?i)"?is_?fire"?\s*[:=]\s*true`)
	negationRe   = regexp.MustCompile(`(?i)\b(no|not|without)\s+(actual\s+|visible\s+|any\s+)?(fire|flames?)\b`)
	fireWordsRe  = regexp.MustCompile(`(?i)\b(fire detected|visible flames?|active fire|flames? (are|is) visible)\b`)
)

func keywordResult(text string) *Result {
	isFire := isFireTrueRe.MatchString(text) ||
		(fireWordsRe.MatchString(text) && !negationRe.MatchString(text))
	score := 0.3
	if isFire {
		score = 0.7
	}
	rationale := text
	if r := []rune(rationale); len(r) > maxRationaleLen {
		rationale = string(r[:maxRationaleLen])
	}
	return &Result{
		IsFire:             isFire,
		Score:              score,
		Rationale:          rationale,
		SensitiveRationale: "Could not parse sensitivity check",
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
