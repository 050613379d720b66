package models

import "time"

// FamilySettings is the per-family key/value settings record.
type FamilySettings struct {
	FamilyID  string
	Values    map[string]string
	UpdatedAt time.Time
	UpdatedBy string
}

func (s *FamilySettings) Fields() map[string]string {
	out := make(map[string]string, len(s.Values))
	for k, v := range s.Values {
		out[k] = v
	}
	return out
}

// Get returns a setting or the fallback when unset.
func (s *FamilySettings) Get(key, fallback string) string {
	if v, ok := s.Values[key]; ok {
		return v
	}
	return fallback
}
