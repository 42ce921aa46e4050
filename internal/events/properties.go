// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package events

// Properties is the typed property bag attached to an event at creation.
// Each event type has its own concrete variant; the Extra map carries only
// forward-compatible passthrough data that has no dedicated field yet.
//
// Map() returns a flattened view used for hashing, aggregate merging, and
// wire serialization. The returned map is freshly allocated on every call so
// callers may mutate it without aliasing the variant.
type Properties interface {
	Kind() EventType
	Map() map[string]any
}

func withExtra(m, extra map[string]any) map[string]any {
	for k, v := range extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}

// PageViewProps describes a page_view event.
type PageViewProps struct {
	Page     string
	Title    string
	Referrer string
	Extra    map[string]any
}

// Kind implements Properties.
func (PageViewProps) Kind() EventType { return TypePageView }

// Map implements Properties.
func (p PageViewProps) Map() map[string]any {
	return withExtra(map[string]any{
		"page":     p.Page,
		"title":    p.Title,
		"referrer": p.Referrer,
	}, p.Extra)
}

// ProductViewProps describes a product_view event.
type ProductViewProps struct {
	ProductID string
	Name      string
	Category  string
	Price     float64
	PriceTier string // standard, premium
	Extra     map[string]any
}

// Kind implements Properties.
func (ProductViewProps) Kind() EventType { return TypeProductView }

// Map implements Properties.
func (p ProductViewProps) Map() map[string]any {
	return withExtra(map[string]any{
		"product_id": p.ProductID,
		"name":       p.Name,
		"category":   p.Category,
		"price":      p.Price,
		"price_tier": p.PriceTier,
	}, p.Extra)
}

// QuizProps describes a quiz_interaction event.
type QuizProps struct {
	QuizID    string
	Step      int
	Progress  float64 // 0-100
	Completed bool
	Answer    string
	Extra     map[string]any
}

// Kind implements Properties.
func (QuizProps) Kind() EventType { return TypeQuizInteraction }

// Map implements Properties.
func (p QuizProps) Map() map[string]any {
	return withExtra(map[string]any{
		"quiz_id":   p.QuizID,
		"step":      p.Step,
		"progress":  p.Progress,
		"completed": p.Completed,
		"answer":    p.Answer,
	}, p.Extra)
}

// FormProps describes a form_submission event.
type FormProps struct {
	FormID   string
	FormType string // contact, newsletter, quote
	Fields   int
	Extra    map[string]any
}

// Kind implements Properties.
func (FormProps) Kind() EventType { return TypeFormSubmission }

// Map implements Properties.
func (p FormProps) Map() map[string]any {
	return withExtra(map[string]any{
		"form_id":   p.FormID,
		"form_type": p.FormType,
		"fields":    p.Fields,
	}, p.Extra)
}

// DemoRequestProps describes a demo_request event.
type DemoRequestProps struct {
	Product  string
	Company  string
	TeamSize int
	Extra    map[string]any
}

// Kind implements Properties.
func (DemoRequestProps) Kind() EventType { return TypeDemoRequest }

// Map implements Properties.
func (p DemoRequestProps) Map() map[string]any {
	return withExtra(map[string]any{
		"product":   p.Product,
		"company":   p.Company,
		"team_size": p.TeamSize,
	}, p.Extra)
}

// QuoteRequestProps describes a quote_request event.
type QuoteRequestProps struct {
	Product string
	Value   float64
	Extra   map[string]any
}

// Kind implements Properties.
func (QuoteRequestProps) Kind() EventType { return TypeQuoteRequest }

// Map implements Properties.
func (p QuoteRequestProps) Map() map[string]any {
	return withExtra(map[string]any{
		"product": p.Product,
		"value":   p.Value,
	}, p.Extra)
}

// ConversionProps describes a conversion_event.
type ConversionProps struct {
	ConversionType string // purchase, signup, subscription
	Value          float64
	Currency       string
	Extra          map[string]any
}

// Kind implements Properties.
func (ConversionProps) Kind() EventType { return TypeConversion }

// Map implements Properties.
func (p ConversionProps) Map() map[string]any {
	return withExtra(map[string]any{
		"conversion_type": p.ConversionType,
		"value":           p.Value,
		"currency":        p.Currency,
	}, p.Extra)
}

// ErrorProps describes an error_encounter event.
type ErrorProps struct {
	Message string
	Code    string
	Page    string
	Extra   map[string]any
}

// Kind implements Properties.
func (ErrorProps) Kind() EventType { return TypeErrorEncounter }

// Map implements Properties.
func (p ErrorProps) Map() map[string]any {
	return withExtra(map[string]any{
		"message": p.Message,
		"code":    p.Code,
		"page":    p.Page,
	}, p.Extra)
}

// GenericProps carries an arbitrary property map for event types without a
// dedicated variant. The tracker uses it for passthrough Track calls.
type GenericProps struct {
	Type   EventType
	Values map[string]any
}

// Kind implements Properties.
func (p GenericProps) Kind() EventType { return p.Type }

// Map implements Properties.
func (p GenericProps) Map() map[string]any {
	m := make(map[string]any, len(p.Values))
	for k, v := range p.Values {
		m[k] = v
	}
	return m
}
