package types

import (
	"time"
)

// Channel identifies the messaging network a message arrived on
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelTelegram  Channel = "telegram"
)

// Intent is the classified purpose of an inbound message
type Intent string

const (
	IntentSales       Intent = "vendas"
	IntentSupport     Intent = "suporte"
	IntentInformation Intent = "informacao"
	IntentComplaint   Intent = "reclamacao"
	IntentOther       Intent = "outro"
)

// Urgency is the urgency level attached to a conversation
type Urgency string

const (
	UrgencyLow    Urgency = "Baixa"
	UrgencyMedium Urgency = "Media"
	UrgencyHigh   Urgency = "Alta"
)

// PlanTier is the subscription plan of the CRM account
type PlanTier string

const (
	PlanBasic   PlanTier = "basic"
	PlanPro     PlanTier = "pro"
	PlanPremium PlanTier = "premium"
)

// MessageContext is the normalized inbound message handed to the router.
// It is built once per message and never mutated afterwards.
type MessageContext struct {
	ID      string  `json:"id"`
	Channel Channel `json:"channel"`
	Sender  string  `json:"sender"`
	// SenderName is used by templates for personalization
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text"`

	// Routing signals
	UserValue     float64  `json:"user_value"`
	Intent        Intent   `json:"intent"`
	Urgency       Urgency  `json:"urgency"`
	Complexity    float64  `json:"complexity"` // 0.0 - 1.0
	HourOfDay     int      `json:"hour_of_day"`
	CreditBalance int      `json:"credit_balance"`
	Plan          PlanTier `json:"plan"`

	ReceivedAt time.Time `json:"received_at"`
}

// WithDefaults returns a copy with zero-valued optional fields filled in
func (m MessageContext) WithDefaults(now time.Time) MessageContext {
	if m.Plan == "" {
		m.Plan = PlanBasic
	}
	if m.Intent == "" {
		m.Intent = IntentOther
	}
	if m.Urgency == "" {
		m.Urgency = UrgencyMedium
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = now
	}
	if m.Complexity < 0 {
		m.Complexity = 0
	}
	if m.Complexity > 1 {
		m.Complexity = 1
	}
	return m
}
