package moderation

import (
	"encoding/json"
	"strings"

	"calmmap/internal/domain/submissions"
	"calmmap/internal/domain/venues"
	"calmmap/internal/postcode"
)

// venueFields converts a validated payload into the stored venue shape:
// canonical postcode, lowercase de-duplicated tags, trimmed image URLs with
// the gallery capped and an empty cover dropped.
func venueFields(p submissions.Payload) (venues.Fields, error) {
	f := venues.Fields{
		Name:         strings.TrimSpace(p.Name),
		Description:  trimmed(p.Description),
		Website:      trimmed(p.Website),
		Phone:        trimmed(p.Phone),
		AddressLine1: trimmed(p.AddressLine1),
		AddressLine2: trimmed(p.AddressLine2),
		City:         strings.TrimSpace(p.City),
		Postcode:     postcode.Normalize(p.Postcode),
		Tags:         normalizeTags(p.Tags),
		CoverImage:   trimmed(p.CoverImage),
		Gallery:      normalizeGallery(p.Gallery),
	}

	var err error
	if p.Sensory != nil {
		if f.Sensory, err = json.Marshal(p.Sensory); err != nil {
			return venues.Fields{}, err
		}
	}
	if p.Facilities != nil {
		if f.Facilities, err = json.Marshal(p.Facilities); err != nil {
			return venues.Fields{}, err
		}
	}
	return f, nil
}

// trimmed returns nil for a nil or blank string.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func normalizeGallery(urls []string) []string {
	out := make([]string, 0, min(len(urls), venues.MaxGallery))
	for _, u := range urls {
		if len(out) == venues.MaxGallery {
			break
		}
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
