package models

import (
	"errors"
	"fmt"
)

var ErrNotPaired = errors.New("identity is not part of the pairing")

// Pairing is the fixed two-person pairing, seen from SelfID.
type Pairing struct {
	SelfID    string `json:"self_id" yaml:"self_id"`
	PartnerID string `json:"partner_id" yaml:"partner_id"`
}

func (p Pairing) Validate() error {
	if p.SelfID == "" || p.PartnerID == "" {
		return errors.New("pairing requires self_id and partner_id")
	}
	if p.SelfID == p.PartnerID {
		return fmt.Errorf("pairing members must differ, both are %q", p.SelfID)
	}
	return nil
}

func (p Pairing) IsMember(id string) bool {
	return id != "" && (id == p.SelfID || id == p.PartnerID)
}

// PartnerOf returns the other member of the pairing.
func (p Pairing) PartnerOf(id string) (string, error) {
	switch id {
	case p.SelfID:
		return p.PartnerID, nil
	case p.PartnerID:
		return p.SelfID, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotPaired, id)
}

// As re-orients the pairing so that id is SelfID.
func (p Pairing) As(id string) (Pairing, error) {
	partner, err := p.PartnerOf(id)
	if err != nil {
		return Pairing{}, err
	}
	return Pairing{SelfID: id, PartnerID: partner}, nil
}

func (p Pairing) Members() []string {
	return []string{p.SelfID, p.PartnerID}
}
