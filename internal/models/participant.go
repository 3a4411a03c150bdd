package models

import "time"

// ParticipantKind names the variant of a participant's profile
type ParticipantKind string

const (
	KindProducer   ParticipantKind = "producer"
	KindConsumer   ParticipantKind = "consumer"
	KindProsumer   ParticipantKind = "prosumer"
	KindAggregator ParticipantKind = "aggregator"
)

// EnergySource is the generation technology of a producer
type EnergySource string

const (
	SourceSolar   EnergySource = "solar"
	SourceWind    EnergySource = "wind"
	SourceHydro   EnergySource = "hydro"
	SourceBiomass EnergySource = "biomass"
	SourceGrid    EnergySource = "grid"
	SourceBattery EnergySource = "battery"
)

// ConsumerClass is the tariff class of a consumer
type ConsumerClass string

const (
	ClassResidential ConsumerClass = "residential"
	ClassCommercial  ConsumerClass = "commercial"
	ClassIndustrial  ConsumerClass = "industrial"
	ClassPublic      ConsumerClass = "public"
)

// Profile is implemented by the participant variants below.
// Matching never inspects it; only registration and statistics do.
type Profile interface {
	Kind() ParticipantKind
}

type Producer struct {
	ProductionCapacity uint64       `json:"production_capacity"`
	Source             EnergySource `json:"source"`
}

type Consumer struct {
	ConsumptionCapacity uint64        `json:"consumption_capacity"`
	Class               ConsumerClass `json:"class"`
}

type Prosumer struct {
	ProductionCapacity  uint64       `json:"production_capacity"`
	ConsumptionCapacity uint64       `json:"consumption_capacity"`
	Source              EnergySource `json:"source"`
}

type Aggregator struct{}

func (Producer) Kind() ParticipantKind   { return KindProducer }
func (Consumer) Kind() ParticipantKind   { return KindConsumer }
func (Prosumer) Kind() ParticipantKind   { return KindProsumer }
func (Aggregator) Kind() ParticipantKind { return KindAggregator }

// Participant is a registered market participant
type Participant struct {
	Account      string    `json:"account"`
	Name         string    `json:"name"`
	Profile      Profile   `json:"profile"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Kind returns the participant's variant, or "" if no profile is set
func (p Participant) Kind() ParticipantKind {
	if p.Profile == nil {
		return ""
	}
	return p.Profile.Kind()
}

// NewProfile builds a profile from its flat representation, as stored in
// the database and accepted by the HTTP API.
func NewProfile(kind ParticipantKind, production, consumption uint64, source EnergySource, class ConsumerClass) (Profile, error) {
	switch kind {
	case KindProducer:
		return Producer{ProductionCapacity: production, Source: source}, nil
	case KindConsumer:
		return Consumer{ConsumptionCapacity: consumption, Class: class}, nil
	case KindProsumer:
		return Prosumer{ProductionCapacity: production, ConsumptionCapacity: consumption, Source: source}, nil
	case KindAggregator:
		return Aggregator{}, nil
	}
	return nil, ErrInvalidAccount
}

// FlattenProfile is the inverse of NewProfile
func FlattenProfile(p Profile) (kind ParticipantKind, production, consumption uint64, source EnergySource, class ConsumerClass) {
	switch v := p.(type) {
	case Producer:
		return KindProducer, v.ProductionCapacity, 0, v.Source, ""
	case Consumer:
		return KindConsumer, 0, v.ConsumptionCapacity, "", v.Class
	case Prosumer:
		return KindProsumer, v.ProductionCapacity, v.ConsumptionCapacity, v.Source, ""
	case Aggregator:
		return KindAggregator, 0, 0, "", ""
	}
	return "", 0, 0, "", ""
}
