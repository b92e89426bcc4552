package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"arogya/internal/config"
	"arogya/internal/doctors"
	"arogya/internal/graph"
	"arogya/internal/oracle"
	"arogya/internal/state"
	"arogya/internal/storage"
)

// doctorsState is the node-local state of the doctor-matching workflow.
// When the workflow is entered via hand-off, the summary, symptoms, and
// urgency fields are seeded from the hand-off bag.
type doctorsState struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`

	HandoffSource   string    `json:"handoff_source,omitempty"`
	SymptomsSummary string    `json:"symptoms_summary,omitempty"`
	Symptoms        []Symptom `json:"structured_symptoms,omitempty"`
	UrgencyLevel    string    `json:"urgency_level,omitempty"`

	Specialties          []string `json:"specialties"`
	SpecialtyExplanation string   `json:"specialty_explanation"`
	City                 string   `json:"city"`

	AvailableDoctors []doctors.Doctor `json:"available_doctors"`

	FinalResponse string `json:"final_response"`
	NextAction    string `json:"next_action"`
}

const specialtyPrompt = `You are a medical triage assistant recommending Ayurvedic doctor specialties.

Patient request: %s
Symptoms summary: %s
Urgency: %s

Respond with ONLY a JSON object:
{
  "specialties": ["specialty names"],
  "explanation": "one sentence on why"
}`

// DoctorsWorkflow matches the patient to doctors: it picks specialties,
// asks for a city when one isn't known, and searches the directory.
type DoctorsWorkflow struct {
	runner[doctorsState]
	oracle      oracle.Oracle
	finder      doctors.Finder
	defaultCity string
	minRating   float64
	maxResults  int
}

func NewDoctors(o oracle.Oracle, finder doctors.Finder, cfg config.WorkflowConfig, checkpoints storage.CheckpointStore) (*DoctorsWorkflow, error) {
	w := &DoctorsWorkflow{
		oracle:      o,
		finder:      finder,
		defaultCity: cfg.DefaultCity,
		minRating:   cfg.MinRating,
		maxResults:  cfg.MaxResults,
	}
	if w.defaultCity == "" {
		w.defaultCity = "Delhi"
	}
	if w.maxResults <= 0 {
		w.maxResults = 5
	}

	g, err := graph.NewBuilder[doctorsState](Doctors).
		AddNode("specialty", w.specialty).
		AddNode("location", w.location).
		AddNode("search", w.search).
		SetStart("specialty").
		AddEdge("specialty", "location").
		AddGoto("location", "search").
		Compile()
	if err != nil {
		return nil, err
	}

	w.runner = runner[doctorsState]{
		name:        Doctors,
		graph:       g,
		checkpoints: checkpoints,
		hooks: hooks[doctorsState]{
			initial: func(message string, sess *state.Session) *doctorsState {
				s := &doctorsState{
					UserMessage: message,
					SessionID:   sess.ID,
					NextAction:  "complete",
				}
				// Seed from the hand-off bag when another workflow sent
				// the user here. Values round-trip through JSON so that
				// in-process and persisted bags decode identically.
				rebind(sess.HandoffBag["source"], &s.HandoffSource)
				rebind(sess.HandoffBag["symptoms_summary"], &s.SymptomsSummary)
				rebind(sess.HandoffBag["structured_symptoms"], &s.Symptoms)
				rebind(sess.HandoffBag["urgency_level"], &s.UrgencyLevel)
				return s
			},
			completed: func(s *doctorsState, sess *state.Session) (string, map[string]any) {
				sess.SuggestedSpecialties = append(sess.SuggestedSpecialties[:0], s.Specialties...)
				return s.FinalResponse, map[string]any{
					"next_action": s.NextAction,
					"specialties": s.Specialties,
					"city":        s.City,
					"doctors":     len(s.AvailableDoctors),
				}
			},
			paused: func(p *graph.Suspend) map[string]any {
				return p.Hints
			},
		},
	}
	return w, nil
}

func (w *DoctorsWorkflow) specialty(ctx context.Context, s *doctorsState, in graph.Input) (graph.NodeResult, error) {
	var parsed struct {
		Specialties []string `json:"specialties"`
		Explanation string   `json:"explanation"`
	}
	summary := s.SymptomsSummary
	if summary == "" {
		summary = s.UserMessage
	}
	// On hand-off entry the message is empty and the bag carries the context.
	request := strings.TrimSpace(s.UserMessage)
	if request == "" {
		request = summary
	}
	prompt := fmt.Sprintf(specialtyPrompt, request, summary, s.UrgencyLevel)
	if err := w.oracle.CompleteStructured(ctx, prompt, &parsed); err != nil || len(parsed.Specialties) == 0 {
		log.Warn().Err(err).Msg("specialty recommendation failed, using general fallback")
		parsed.Specialties = []string{"General Ayurveda"}
		parsed.Explanation = "A general practitioner can evaluate your situation and refer you onward if needed."
	}

	s.Specialties = parsed.Specialties
	s.SpecialtyExplanation = parsed.Explanation
	return graph.NodeResult{}, nil
}

func (w *DoctorsWorkflow) location(ctx context.Context, s *doctorsState, in graph.Input) (graph.NodeResult, error) {
	if in.Resumed {
		city := strings.TrimSpace(in.Resume)
		if city == "" {
			city = w.defaultCity
		}
		s.City = city
		return graph.NodeResult{Next: "search"}, nil
	}
	if s.City != "" {
		return graph.NodeResult{Next: "search"}, nil
	}

	return graph.NodeResult{Suspend: &graph.Suspend{
		Type:     "location_question",
		Question: fmt.Sprintf("Which city should I search for doctors in? (I can default to %s.)", w.defaultCity),
		Hints: map[string]any{
			"specialties":  s.Specialties,
			"default_city": w.defaultCity,
		},
	}}, nil
}

func (w *DoctorsWorkflow) search(ctx context.Context, s *doctorsState, in graph.Input) (graph.NodeResult, error) {
	found, err := w.finder.Search(ctx, doctors.SearchParams{
		Specialties: s.Specialties,
		City:        s.City,
		MinRating:   w.minRating,
		Limit:       w.maxResults,
	})
	if err != nil {
		log.Error().Err(err).Str("city", s.City).Msg("doctor search failed")
		s.FinalResponse = fmt.Sprintf("I'm sorry, I couldn't reach the doctor directory just now. Based on your needs I'd suggest looking for a %s practitioner in %s, or try asking me again in a moment.",
			strings.Join(s.Specialties, " or "), s.City)
		return graph.NodeResult{}, nil
	}

	s.AvailableDoctors = found
	s.FinalResponse = w.formatResults(s)
	return graph.NodeResult{}, nil
}

func (w *DoctorsWorkflow) formatResults(s *doctorsState) string {
	if len(s.AvailableDoctors) == 0 {
		return fmt.Sprintf("I couldn't find any %s doctors in %s right now. You could try a nearby city, or I can search again later.",
			strings.Join(s.Specialties, "/"), s.City)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d doctors in %s who may suit you", len(s.AvailableDoctors), s.City)
	if s.SpecialtyExplanation != "" {
		fmt.Fprintf(&b, " (%s)", strings.TrimRight(s.SpecialtyExplanation, "."))
	}
	b.WriteString(":\n")
	for i, d := range s.AvailableDoctors {
		fmt.Fprintf(&b, "\n%d. %s, %s", i+1, d.Name, d.SpecialtyPrimary)
		if d.YearsExperience > 0 {
			fmt.Fprintf(&b, ", %d years of experience", d.YearsExperience)
		}
		fmt.Fprintf(&b, " (rating %.1f", d.Rating)
		if d.ConsultationFee > 0 {
			fmt.Fprintf(&b, ", fee Rs. %.0f", d.ConsultationFee)
		}
		b.WriteString(")")
	}
	b.WriteString("\n\nWould you like help booking a consultation with any of them?")
	return b.String()
}
