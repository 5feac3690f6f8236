// Package prompt turns a question, answer kinds, and perspective into
// the system/user prompt pair sent to the completion service.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/hive-sim/internal/model"
)

// Prompts is the system/user pair for one completion call.
type Prompts struct {
	System string
	User   string
}

var usd = message.NewPrinter(language.English)

// Build is a pure function: the same inputs always produce the same
// prompt pair. The persona is only interpolated for the
// sampled_population perspective; the label only for custom_profile.
func Build(question string, kinds model.AnswerKinds, perspective model.Perspective, label string, p model.Persona) Prompts {
	var sys strings.Builder
	sys.WriteString("You are helping analyze a question from different perspectives. ")

	switch perspective {
	case model.PerspectiveSampledPopulation:
		sys.WriteString(usd.Sprintf(
			"Respond as a %d-year-old person living in %s with an annual income of $%d. Stay in character and answer from that person's point of view. ",
			p.Age, p.Region, p.Income,
		))
	case model.PerspectiveCustomProfile:
		sys.WriteString(fmt.Sprintf(
			"Adopt the following viewpoint and answer from it: %s. ", label,
		))
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Question: %q\n\n", question)
	user.WriteString(formatDirective(kinds))

	return Prompts{System: sys.String(), User: user.String()}
}

func formatDirective(kinds model.AnswerKinds) string {
	open := kinds.Has(model.KindOpenEnded)
	likert := kinds.Has(model.KindLikert)

	switch {
	case open && likert:
		return "Please provide:\n" +
			"1. A brief open-ended response (2-3 sentences)\n" +
			"2. A Likert scale rating (1-5) where:\n" +
			scaleLegend() +
			"\nFormat your response as:\n" +
			"Response: [Your open-ended response]\n" +
			"Rating: [1-5]"
	case likert:
		return "Please provide a Likert scale rating (1-5) where:\n" +
			scaleLegend() +
			"\nFormat your response as:\n" +
			"Rating: [1-5]"
	default:
		return "Please provide a brief open-ended response (2-3 sentences)."
	}
}

func scaleLegend() string {
	var b strings.Builder
	for i, l := range model.LikertLabels {
		fmt.Fprintf(&b, "%d=%s\n", i+1, l)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
