package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/emersion/go-vcard"
)

const memberURNPrefix = "urn:uuid:"

// ParseContacts parses a vCard payload into domain records, one per card.
// Malformed cards are logged and skipped; siblings still parse. An empty or
// whitespace-only payload yields no records and no error.
func ParseContacts(raw string) ([]*Record, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	prepared := Repair(raw)

	// Parse card by card so one corrupt card cannot poison the decoder state
	// for the rest of the payload.
	blocks := splitComponents(prepared, "VCARD")
	if len(blocks) == 0 {
		blocks = []string{prepared}
	}

	var records []*Record
	for _, block := range blocks {
		card, err := decodeCard(block)
		if err != nil {
			log.Printf("Skipping unparsable vCard (%s): %v", identify(block), err)
			continue
		}
		records = append(records, recordFromCard(card))
	}

	return records, nil
}

func decodeCard(block string) (vcard.Card, error) {
	dec := vcard.NewDecoder(strings.NewReader(block))
	card, err := dec.Decode()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty vCard block")
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

func recordFromCard(card vcard.Card) *Record {
	rec := &Record{
		Kind:  KindContact,
		UID:   strings.TrimPrefix(card.Value(vcard.FieldUID), memberURNPrefix),
		Extra: make(map[string]string),
	}

	rec.FormattedName = card.Value(vcard.FieldFormattedName)
	rec.Summary = rec.FormattedName
	rec.Organization = card.Value(vcard.FieldOrganization)

	if name := card.Name(); name != nil {
		rec.FamilyName = name.FamilyName
		rec.GivenName = name.GivenName
	}

	rec.Phones = append(rec.Phones, card.Values(vcard.FieldTelephone)...)
	rec.Emails = append(rec.Emails, card.Values(vcard.FieldEmail)...)

	if cats := card.Value(vcard.FieldCategories); cats != "" {
		for _, cat := range strings.Split(cats, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				rec.Categories = append(rec.Categories, cat)
			}
		}
	}

	if strings.EqualFold(card.Value(vcard.FieldKind), string(vcard.KindGroup)) {
		rec.IsGroup = true
		for _, member := range card.Values(vcard.FieldMember) {
			rec.Members = append(rec.Members, strings.TrimPrefix(member, memberURNPrefix))
		}
	}

	for name, fields := range card {
		if strings.HasPrefix(name, "X-") && len(fields) > 0 {
			rec.Extra[name] = fields[0].Value
		}
	}

	return rec
}

// SerializeContact renders a contact or contact-group record as a vCard 4.0
// document. Only extension-namespaced (X-) extra properties are carried
// through.
func SerializeContact(rec *Record) (string, error) {
	if rec.UID == "" {
		return "", ErrNoUID
	}

	card := make(vcard.Card)
	card.SetValue(vcard.FieldUID, rec.UID)

	fn := rec.FormattedName
	if fn == "" {
		fn = rec.Summary
	}
	if fn == "" {
		fn = rec.UID
	}
	card.SetValue(vcard.FieldFormattedName, fn)

	if rec.FamilyName != "" || rec.GivenName != "" {
		card.SetValue(vcard.FieldName, rec.FamilyName+";"+rec.GivenName+";;;")
	}
	if rec.Organization != "" {
		card.SetValue(vcard.FieldOrganization, rec.Organization)
	}
	for _, phone := range rec.Phones {
		card.AddValue(vcard.FieldTelephone, phone)
	}
	for _, email := range rec.Emails {
		card.AddValue(vcard.FieldEmail, email)
	}
	if len(rec.Categories) > 0 {
		card.SetValue(vcard.FieldCategories, strings.Join(rec.Categories, ","))
	}

	if rec.IsGroup {
		card.SetValue(vcard.FieldKind, string(vcard.KindGroup))
		for _, member := range rec.Members {
			card.AddValue(vcard.FieldMember, memberURNPrefix+member)
		}
	}

	for name, value := range rec.Extra {
		if strings.HasPrefix(name, "X-") {
			card.SetValue(name, value)
		}
	}

	vcard.ToV4(card)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", fmt.Errorf("failed to encode vCard: %w", err)
	}

	return buf.String(), nil
}
