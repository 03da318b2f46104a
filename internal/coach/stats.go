package coach

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ent0n29/callcoach/internal/playbook"
	"github.com/ent0n29/callcoach/internal/protocol"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

const (
	talkRatioNudgeThreshold = 65
	talkRatioMinWords       = 60
	repQuestionLookback     = 4
	monologueNudgeWords     = 120
)

var (
	negativePattern = regexp.MustCompile(`(?i)\b(frustrat\w*|annoy\w*|waste of time|not interested|terrible|hate|angry|disappoint\w*|no thanks|stop calling|ridiculous|too expensive)\b`)
	positivePattern = regexp.MustCompile(`(?i)\b(great|love|perfect|excited|interesting|sounds good|helpful|awesome|like that|impressive|makes sense)\b`)
)

func classifySentiment(text string) string {
	switch {
	case negativePattern.MatchString(text):
		return SentimentNegative
	case positivePattern.MatchString(text):
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

// callStats are the running counters of one call. Only final turns update them.
type callStats struct {
	RepTurns      int
	ProspectTurns int
	RepWords      int
	ProspectWords int
	Questions     int
	RepQuestions  int
	LastObjection string
	LastSentiment string

	// one entry per rep turn, newest last, bounded by repQuestionLookback
	repAsked []bool
	// prospect words since the rep last spoke
	monologueWords int
}

func (st *callStats) observe(turn playbook.Turn) {
	words := len(strings.Fields(turn.Text))
	asked := strings.Contains(turn.Text, "?")
	if asked {
		st.Questions++
	}
	switch turn.Speaker {
	case playbook.SpeakerRep:
		st.RepTurns++
		st.RepWords += words
		if asked {
			st.RepQuestions++
		}
		st.repAsked = append(st.repAsked, asked)
		if len(st.repAsked) > repQuestionLookback {
			st.repAsked = st.repAsked[len(st.repAsked)-repQuestionLookback:]
		}
		st.monologueWords = 0
	default:
		st.ProspectTurns++
		st.ProspectWords += words
		st.monologueWords += words
		if objection := classifyObjection(turn.Text); objection != ObjectionOther {
			st.LastObjection = objection
		}
		st.LastSentiment = classifySentiment(turn.Text)
	}
}

// talkRatio is the rep's share of spoken words, in percent.
func (st callStats) talkRatio() int {
	total := st.RepWords + st.ProspectWords
	if total == 0 {
		return 0
	}
	return st.RepWords * 100 / total
}

func (st callStats) nudges() []string {
	var out []string
	if ratio := st.talkRatio(); ratio > talkRatioNudgeThreshold && st.RepWords+st.ProspectWords >= talkRatioMinWords {
		out = append(out, fmt.Sprintf("You're talking %d%% of the time. Ask a question and let them talk.", ratio))
	}
	if len(st.repAsked) == repQuestionLookback {
		asked := false
		for _, a := range st.repAsked {
			asked = asked || a
		}
		if !asked {
			out = append(out, fmt.Sprintf("No questions in your last %d turns. Try an open question.", repQuestionLookback))
		}
	}
	if st.LastSentiment == SentimentNegative {
		out = append(out, "Prospect sounds frustrated. Acknowledge it before moving on.")
	}
	if st.monologueWords >= monologueNudgeWords {
		out = append(out, "Long answer from the prospect. Summarize what you heard before pitching.")
	}
	return out
}

func (st callStats) payload() protocol.StatsData {
	return protocol.StatsData{
		RepTurns:      st.RepTurns,
		ProspectTurns: st.ProspectTurns,
		RepWords:      st.RepWords,
		ProspectWords: st.ProspectWords,
		Questions:     st.Questions,
		RepQuestions:  st.RepQuestions,
		TalkRatio:     st.talkRatio(),
		LastObjection: st.LastObjection,
		LastSentiment: st.LastSentiment,
	}
}

// Moment tags.
const (
	MomentObjection    = "objection"
	MomentBuyingSignal = "buying_signal"
	MomentQuestion     = "question"
	MomentStageChange  = "stage_change"
)

var validMoments = map[string]bool{
	MomentObjection:    true,
	MomentBuyingSignal: true,
	MomentQuestion:     true,
	MomentStageChange:  true,
}

func momentTag(model string, stageChanged bool, slots Slots) string {
	if m := strings.ToLower(strings.TrimSpace(model)); validMoments[m] {
		return m
	}
	switch {
	case stageChanged:
		return MomentStageChange
	case slots.HasObjection():
		return MomentObjection
	case slots.Intent == IntentRequestingNextSteps:
		return MomentBuyingSignal
	case slots.Intent == IntentAskingInfo:
		return MomentQuestion
	default:
		return ""
	}
}
