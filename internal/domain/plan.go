// Package domain contains core domain types for the UNOA chat backend.
package domain

import (
	"time"
)

// Plan is a canonical catalog entry for a mobile/data plan. Title is the
// unique key used when matching plan mentions in generated text.
type Plan struct {
	ID                       int64     `json:"id"`
	Category                 string    `json:"category"`
	Title                    string    `json:"title"`
	Price                    int       `json:"price"`
	OptionalContractDiscount int       `json:"optionalContractDiscount,omitempty"`
	PremierContractDiscount  int       `json:"premierContractDiscount,omitempty"`
	PopularityRank           int       `json:"popularityRank,omitempty"`
	AgeGroup                 string    `json:"ageGroup,omitempty"`
	Data                     string    `json:"data,omitempty"`
	PostExhaustionDataSpeed  string    `json:"postExhaustionDataSpeed,omitempty"`
	Tethering                string    `json:"tethering,omitempty"`
	TetheringAndSharing      string    `json:"tetheringAndSharing,omitempty"`
	VoiceCall                string    `json:"voiceCall,omitempty"`
	VoiceCallFirstDes        string    `json:"voiceCallFirstDes,omitempty"`
	SMS                      string    `json:"sms,omitempty"`
	BasicBenefit             []string  `json:"basicBenefit,omitempty"`
	PremiumBenefit           []string  `json:"premiumBenefit,omitempty"`
	MediaBenefit             []string  `json:"mediaBenefit,omitempty"`
	SmartDevice              []string  `json:"smartDevice,omitempty"`
	SignatureFamilyDiscount  []string  `json:"signatureFamilyDiscount,omitempty"`
	Description              string    `json:"description,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// PlanSummary is the reduced projection of a Plan embedded into generation
// context. Administrative fields (IDs, category, age group, timestamps) are
// dropped to keep prompt payloads small.
type PlanSummary struct {
	Title                    string   `json:"title"`
	Price                    int      `json:"price"`
	Data                     string   `json:"data,omitempty"`
	PostExhaustionDataSpeed  string   `json:"postExhaustionDataSpeed,omitempty"`
	TetheringAndSharing      string   `json:"tetheringAndSharing,omitempty"`
	OptionalContractDiscount int      `json:"optionalContractDiscount,omitempty"`
	PremierContractDiscount  int      `json:"premierContractDiscount,omitempty"`
	VoiceCall                string   `json:"voiceCall,omitempty"`
	VoiceCallFirstDes        string   `json:"voiceCallFirstDes,omitempty"`
	SMS                      string   `json:"sms,omitempty"`
	PremiumBenefit           []string `json:"premiumBenefit,omitempty"`
	MediaBenefit             []string `json:"mediaBenefit,omitempty"`
	Description              string   `json:"description,omitempty"`
	PopularityRank           int      `json:"popularityRank,omitempty"`
}

// Summarize returns the prompt-facing projection of the plan.
func (p *Plan) Summarize() PlanSummary {
	return PlanSummary{
		Title:                    p.Title,
		Price:                    p.Price,
		Data:                     p.Data,
		PostExhaustionDataSpeed:  p.PostExhaustionDataSpeed,
		TetheringAndSharing:      p.TetheringAndSharing,
		OptionalContractDiscount: p.OptionalContractDiscount,
		PremierContractDiscount:  p.PremierContractDiscount,
		VoiceCall:                p.VoiceCall,
		VoiceCallFirstDes:        p.VoiceCallFirstDes,
		SMS:                      p.SMS,
		PremiumBenefit:           p.PremiumBenefit,
		MediaBenefit:             p.MediaBenefit,
		Description:              p.Description,
		PopularityRank:           p.PopularityRank,
	}
}

// SummarizePlans maps a catalog slice to its prompt projections.
func SummarizePlans(plans []*Plan) []PlanSummary {
	summaries := make([]PlanSummary, 0, len(plans))
	for _, p := range plans {
		summaries = append(summaries, p.Summarize())
	}
	return summaries
}

// Benefit is a membership or loyalty benefit record.
type Benefit struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Level    string `json:"level"`
	Brand    string `json:"brand"`
	Benefit  string `json:"benefit"`
	Category string `json:"category"`
}
