package consultation

import (
	"strings"

	"github.com/xaenox/cara/internal/models"
)

// OtherOption requires a custom topic.
const OtherOption = "other"

// Option is one entry of the wizard's topic menu.
type Option struct {
	Value string
	Label string
	Type  models.ConsultationType
}

// TopicOptions is the wizard menu, in display order.
var TopicOptions = []Option{
	{Value: "gdpr", Label: "GDPR Compliance", Type: models.TypeComplianceReview},
	{Value: "ccpa", Label: "CCPA Compliance", Type: models.TypeComplianceReview},
	{Value: "privacy", Label: "Data Privacy", Type: models.TypeComplianceReview},
	{Value: "payments", Label: "Payment Processing", Type: models.TypeComplianceReview},
	{Value: "pci-dss", Label: "PCI DSS", Type: models.TypeComplianceReview},
	{Value: "sox", Label: "SOX Compliance", Type: models.TypeComplianceReview},
	{Value: "security", Label: "Security Policies", Type: models.TypeRiskAssessment},
	{Value: "risk", Label: "Risk Assessment", Type: models.TypeRiskAssessment},
	{Value: "audit", Label: "Audit Preparation", Type: models.TypeAuditPreparation},
	{Value: "hipaa", Label: "HIPAA Compliance", Type: models.TypeComplianceReview},
	{Value: "iso27001", Label: "ISO 27001", Type: models.TypeAuditPreparation},
	{Value: OtherOption, Label: "Other", Type: models.TypeGeneral},
}

var canonicalLabels = map[models.ConsultationType]string{
	models.TypeGeneral:          "General",
	models.TypeRiskAssessment:   "Risk Assessment",
	models.TypeComplianceReview: "Compliance Review",
	models.TypeAuditPreparation: "Audit Preparation",
}

func normalizeChoice(choice string) string {
	return strings.ToLower(strings.TrimSpace(choice))
}

// LookupOption finds a menu entry by value. The canonical store types are
// accepted as menu values too.
func LookupOption(choice string) (Option, bool) {
	v := normalizeChoice(choice)
	for _, opt := range TopicOptions {
		if opt.Value == v {
			return opt, true
		}
	}
	for _, t := range models.ConsultationTypes {
		if string(t) == v {
			return Option{Value: v, Label: canonicalLabels[t], Type: t}, true
		}
	}
	return Option{}, false
}

// TypeMap resolves a wizard choice to the value the store accepts. It is
// total: anything it does not know resolves to the general type.
type TypeMap struct {
	table    map[string]models.ConsultationType
	aliases  map[models.ConsultationType]string
	accepted map[string]struct{}
}

// NewTypeMap builds the mapping. aliases renames canonical types on the
// wire (for example compliance-review to comp); accepted, when non-empty,
// restricts the wire values the store takes.
func NewTypeMap(aliases map[string]string, accepted []string) *TypeMap {
	m := &TypeMap{
		table:    make(map[string]models.ConsultationType),
		aliases:  make(map[models.ConsultationType]string),
		accepted: make(map[string]struct{}),
	}
	for _, opt := range TopicOptions {
		m.table[opt.Value] = opt.Type
	}
	for _, t := range models.ConsultationTypes {
		m.table[string(t)] = t
	}
	for canonical, wire := range aliases {
		t := models.ConsultationType(normalizeChoice(canonical))
		m.aliases[t] = strings.TrimSpace(wire)
		m.table[normalizeChoice(wire)] = t
	}
	for _, v := range accepted {
		if v = strings.TrimSpace(v); v != "" {
			m.accepted[v] = struct{}{}
		}
	}
	return m
}

// Canonical maps a choice to one of the four consultation types.
func (m *TypeMap) Canonical(choice string) models.ConsultationType {
	if t, ok := m.table[normalizeChoice(choice)]; ok {
		return t
	}
	return models.TypeGeneral
}

// Resolve maps a choice to the store's wire value.
func (m *TypeMap) Resolve(choice string) string {
	wire := m.wire(m.Canonical(choice))
	if len(m.accepted) == 0 {
		return wire
	}
	if _, ok := m.accepted[wire]; ok {
		return wire
	}
	return m.wire(models.TypeGeneral)
}

func (m *TypeMap) wire(t models.ConsultationType) string {
	if alias, ok := m.aliases[t]; ok && alias != "" {
		return alias
	}
	return string(t)
}

// TypeLabel is the display name of a canonical type.
func TypeLabel(t models.ConsultationType) string {
	if label, ok := canonicalLabels[t]; ok {
		return label
	}
	return canonicalLabels[models.TypeGeneral]
}
