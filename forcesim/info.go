package forcesim

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// InfoType names a kind of Info the instance accepts.
type InfoType string

const (
	Subjective InfoType = "Subjective"
)

// Info is information emitted into the market; agents react to it.
type Info interface {
	InfoType() InfoType
}

// SubjectiveInfo carries a price indication whose weight on the agents'
// views is scaled by SubjectivityExtent.
type SubjectiveInfo struct {
	SubjectivityExtent float64         `json:"subjectivity_extent" validate:"gte=-1,lte=1"`
	PriceIndication    decimal.Decimal `json:"price_indication"`
	IsRelative         bool            `json:"is_relative"`
}

func (SubjectiveInfo) InfoType() InfoType { return Subjective }

// MarshalJSON emits the flat wire form, with the price as a JSON number.
func (i SubjectiveInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type               InfoType    `json:"type"`
		SubjectivityExtent float64     `json:"subjectivity_extent"`
		PriceIndication    json.Number `json:"price_indication"`
		IsRelative         bool        `json:"is_relative"`
	}{
		Type:               Subjective,
		SubjectivityExtent: i.SubjectivityExtent,
		PriceIndication:    json.Number(i.PriceIndication.String()),
		IsRelative:         i.IsRelative,
	})
}

// NewInfo decodes raw into the Info type selected by t. raw may still carry
// the "type" member.
func NewInfo(t InfoType, raw json.RawMessage) (Info, error) {
	switch t {
	case Subjective:
		var fields struct {
			Type               InfoType         `json:"type"`
			SubjectivityExtent *float64         `json:"subjectivity_extent"`
			PriceIndication    *decimal.Decimal `json:"price_indication"`
			IsRelative         *bool            `json:"is_relative"`
		}
		if err := DecodeStrict(raw, &fields); err != nil {
			return nil, err
		}
		if fields.SubjectivityExtent == nil || fields.PriceIndication == nil || fields.IsRelative == nil {
			return nil, fmt.Errorf("subjective info requires subjectivity_extent, price_indication and is_relative")
		}
		return SubjectiveInfo{
			SubjectivityExtent: *fields.SubjectivityExtent,
			PriceIndication:    *fields.PriceIndication,
			IsRelative:         *fields.IsRelative,
		}, nil
	default:
		return nil, fmt.Errorf("unknown info type %q", t)
	}
}
