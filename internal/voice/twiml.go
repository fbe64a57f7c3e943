package voice

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Gather parameters the speech turn depends on.
const (
	gatherInput         = "speech"
	gatherMethod        = "POST"
	gatherSpeechTimeout = "auto"
	gatherTimeout       = 20
	gatherSpeechModel   = "googlev2_long"
	gatherHints         = "yes, no, confirm, cancel, reschedule, appointment"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type gatherVerb struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Language      string   `xml:"language,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Timeout       int      `xml:"timeout,attr"`
	Enhanced      bool     `xml:"enhanced,attr"`
	SpeechModel   string   `xml:"speechModel,attr"`
	Hints         string   `xml:"hints,attr"`
	Say           *sayVerb
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

// twiml builds a voice response verb by verb.
type twiml struct {
	voice    string
	language string
	verbs    []any
}

func newTwiML(voice, language string) *twiml {
	return &twiml{voice: voice, language: language}
}

func (t *twiml) Say(text string) *twiml {
	t.verbs = append(t.verbs, sayVerb{Voice: t.voice, Text: text})
	return t
}

// Gather listens for one utterance and posts it to action, speaking prompt first.
func (t *twiml) Gather(action, prompt string) *twiml {
	t.verbs = append(t.verbs, gatherVerb{
		Input:         gatherInput,
		Action:        action,
		Method:        gatherMethod,
		Language:      t.language,
		SpeechTimeout: gatherSpeechTimeout,
		Timeout:       gatherTimeout,
		Enhanced:      true,
		SpeechModel:   gatherSpeechModel,
		Hints:         gatherHints,
		Say:           &sayVerb{Voice: t.voice, Text: prompt},
	})
	return t
}

func (t *twiml) Hangup() *twiml {
	t.verbs = append(t.verbs, hangupVerb{})
	return t
}

func (t *twiml) Render() ([]byte, error) {
	body, err := xml.Marshal(twimlResponse{Verbs: t.verbs})
	if err != nil {
		return nil, fmt.Errorf("voice: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func writeTwiML(w http.ResponseWriter, t *twiml) error {
	body, err := t.Render()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
