// Package parse turns raw completion text into the structured fields of
// an answer record. Parsing never fails: malformed input degrades to
// absent fields.
package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/hive-sim/internal/model"
)

// Fragment is the parsed portion of an answer record.
type Fragment struct {
	OpenEnded string
	Likert    *int
}

var (
	ratingRe   = regexp.MustCompile(`(?m)^\s*Rating:\s*(\d+)`)
	responseRe = regexp.MustCompile(`^\s*Response:\s*`)
	bareDigit  = regexp.MustCompile(`\d`)
)

// Parse extracts the requested fields from raw model output.
//
// With both kinds requested, everything before the Rating: marker is the
// open-ended reply (a leading "Response:" label is stripped) and the
// marker digits become the rating when within 1..5. With likert only,
// the marker is preferred; a bare digit anywhere in the text is a
// last-resort fallback when no marker exists. Out-of-range ratings are
// dropped, never clamped.
func Parse(raw string, kinds model.AnswerKinds) Fragment {
	text := strings.TrimSpace(raw)
	wantOpen := kinds.Has(model.KindOpenEnded)
	wantLikert := kinds.Has(model.KindLikert)

	var frag Fragment

	if wantOpen && !wantLikert {
		frag.OpenEnded = text
		return frag
	}

	loc := ratingRe.FindStringSubmatchIndex(text)

	if wantOpen {
		open := text
		if loc != nil {
			open = text[:loc[0]]
		}
		open = responseRe.ReplaceAllString(open, "")
		frag.OpenEnded = strings.TrimSpace(open)
	}

	if wantLikert {
		if loc != nil {
			frag.Likert = likertValue(text[loc[2]:loc[3]])
		} else if !wantOpen {
			if d := bareDigit.FindString(text); d != "" {
				frag.Likert = likertValue(d)
			}
		}
	}

	return frag
}

func likertValue(digits string) *int {
	v, err := strconv.Atoi(digits)
	if err != nil || !model.LikertInRange(v) {
		return nil
	}
	return &v
}
