// Package vcard wraps parsing, validation, and normalization of vCard
// payloads on their way into storage.
package vcard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
	"github.com/google/uuid"
)

// Parse decodes a single-card payload and returns the card plus its UID.
func Parse(raw []byte) (govcard.Card, string, error) {
	cards, err := parseAll(raw)
	if err != nil {
		return nil, "", err
	}
	if len(cards) != 1 {
		return nil, "", fmt.Errorf("expected exactly one vCard, got %d", len(cards))
	}
	c := cards[0]
	return c, c.Value(govcard.FieldUID), nil
}

func Validate(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty vCard data")
	}

	content := string(raw)
	if !strings.Contains(content, "BEGIN:VCARD") {
		return errors.New("vCard data missing BEGIN:VCARD")
	}
	if !strings.Contains(content, "END:VCARD") {
		return errors.New("vCard data missing END:VCARD")
	}

	cards, err := parseAll(raw)
	if err != nil {
		return fmt.Errorf("vCard parsing failed: %w", err)
	}
	if len(cards) == 0 {
		return errors.New("no valid vCard found after parsing")
	}

	for i, c := range cards {
		if c.Value(govcard.FieldVersion) == "" {
			return fmt.Errorf("vCard %d missing VERSION", i)
		}
		if c.Value(govcard.FieldFormattedName) == "" {
			return fmt.Errorf("vCard %d missing FN", i)
		}
	}
	return nil
}

// Normalize rewrites raw into targetVersion, filling FN from N and
// minting a UID when absent.
func Normalize(raw []byte, targetVersion string) ([]byte, error) {
	cards, err := parseAll(raw)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, errors.New("no vcard found")
	}

	for _, c := range cards {
		switch targetVersion {
		case "4.0":
			c.SetValue(govcard.FieldVersion, "4.0")
			govcard.ToV4(c)
		case "3.0":
			c.SetValue(govcard.FieldVersion, "3.0")
		case "":
			if c.Value(govcard.FieldVersion) == "" {
				c.SetValue(govcard.FieldVersion, "3.0")
			}
		default:
			return nil, errors.New("unsupported target vcard version")
		}

		if c.Value(govcard.FieldFormattedName) == "" {
			if name := c.Name(); name != nil {
				fn := strings.TrimSpace(strings.Join([]string{
					name.GivenName, name.AdditionalName, name.FamilyName,
				}, " "))
				if fn != "" {
					c.SetValue(govcard.FieldFormattedName, fn)
				}
			}
			if c.Value(govcard.FieldFormattedName) == "" {
				return nil, errors.New("vcard missing FN and cannot generate from N")
			}
		}

		if c.Value(govcard.FieldUID) == "" {
			c.SetValue(govcard.FieldUID, uuid.NewString())
		}
	}

	var buf bytes.Buffer
	enc := govcard.NewEncoder(&buf)
	for _, c := range cards {
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Encode renders a parsed card back to wire form.
func Encode(c govcard.Card) (string, error) {
	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func parseAll(b []byte) ([]govcard.Card, error) {
	// RFC 6350 requires CRLF line endings.
	content := strings.ReplaceAll(string(b), "\n", "\r\n")
	content = strings.ReplaceAll(content, "\r\r\n", "\r\n")

	dec := govcard.NewDecoder(strings.NewReader(content))
	var out []govcard.Card
	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode vCard: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
